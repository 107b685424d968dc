package session

import (
	"time"

	"github.com/google/uuid"
)

// Log roles recorded in Session.Logs.
const (
	LogTranscript = "typescript"
	LogInput      = "input"
	LogOutput     = "output"
	LogIO         = "io"
	LogTiming     = "timing"
)

// Session is the history record of one completed or interrupted recording.
type Session struct {
	ID           string     `json:"id"`
	StartTime    time.Time  `json:"start_time"`
	StopTime     *time.Time `json:"stop_time,omitempty"`
	WorkDir      string     `json:"work_dir"`
	Shell        string     `json:"shell"`
	Command      string     `json:"command,omitempty"`
	Logs         []LogFile  `json:"logs"`
	TimingFormat string     `json:"timing_format,omitempty"`
	// ExitCode is nil when the child's status was never observed.
	ExitCode     *int   `json:"exit_code,omitempty"`
	OutputBytes  uint64 `json:"output_bytes"`
	InputBytes   uint64 `json:"input_bytes"`
	LimitReached bool   `json:"limit_reached,omitempty"`
}

// LogFile is one sink a recording wrote to.
type LogFile struct {
	Role string `json:"role"`
	Path string `json:"path"` // absolute, or "-" for stderr
}

// New returns a record with a fresh ID.
func New(start time.Time, workDir string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		StartTime: start,
		WorkDir:   workDir,
		Logs:      []LogFile{},
	}
}

// Log returns the path recorded for role, or "".
func (s *Session) Log(role string) string {
	for _, l := range s.Logs {
		if l.Role == role {
			return l.Path
		}
	}
	return ""
}

// Duration is the recorded wall time; zero while StopTime is unset.
func (s *Session) Duration() time.Duration {
	if s.StopTime == nil {
		return 0
	}
	return s.StopTime.Sub(s.StartTime)
}

// ShortID is the prefix shown in listings.
func (s *Session) ShortID() string {
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}
