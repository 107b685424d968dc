// Package recorder runs a command on a pseudo-terminal and records
// everything it prints. The caller's input is relayed to the command, every
// transfer can be mirrored to input, output, combined and timing logs, and
// the session honours an output size limit and a flush-on-signal request.
package recorder

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fakeyudi/script/internal/timing"
)

// DefaultTranscript is the transcript name used when none is given.
const DefaultTranscript = "typescript"

// EchoMode controls echo on the pseudo-terminal's subordinate side.
type EchoMode int

const (
	// EchoAuto echoes only when the caller's input is not a terminal.
	EchoAuto EchoMode = iota
	EchoAlways
	EchoNever
)

func (m EchoMode) String() string {
	switch m {
	case EchoAlways:
		return "always"
	case EchoNever:
		return "never"
	default:
		return "auto"
	}
}

// ParseEchoMode maps "always", "never" or "auto" to an EchoMode.
func ParseEchoMode(s string) (EchoMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EchoAuto, nil
	case "always":
		return EchoAlways, nil
	case "never":
		return EchoNever, nil
	}
	return EchoAuto, fmt.Errorf("invalid echo mode %q (want always, never or auto)", s)
}

// Config is the resolved description of one recording. It is built once by
// the caller and never modified by the recorder.
type Config struct {
	Transcript string
	Append     bool
	// Force allows the transcript to be a symbolic or multiply-linked file.
	Force bool
	// Command is run with "$SHELL -c"; empty starts an interactive shell.
	Command string
	// Shell overrides $SHELL resolution when set.
	Shell            string
	Echo             EchoMode
	ReturnExitStatus bool
	Flush            bool

	LogIn     string
	LogOut    string
	LogIO     string
	LogTiming string

	TimingFormat timing.Format
	// OutputLimit is the output byte budget; zero means unlimited.
	OutputLimit uint64
	Quiet       bool
}

// Validate checks the constraints the recorder relies on.
func (c Config) Validate() error {
	if c.Transcript == "" {
		return fmt.Errorf("transcript path is empty")
	}
	if c.LogIO != "" && (c.LogIn != "" || c.LogOut != "") {
		return ErrConflictingLogs
	}
	return nil
}

// Stdio is the caller's side of the session.
type Stdio struct {
	// In must be a real descriptor so it can be polled.
	In *os.File
	// Out receives relayed output and the start/done notices.
	Out io.Writer
}

// Result describes how a session ended.
type Result struct {
	// ExitCode is the child's status, or 128+signal when it was killed.
	// It is zero when the child was not observed to exit.
	ExitCode     int
	ChildExited  bool
	LimitReached bool
	OutputBytes  uint64
	InputBytes   uint64
	StartedAt    time.Time
	EndedAt      time.Time
}
