package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/fakeyudi/script/internal/timing"
)

// StderrPath names standard error as a sink target instead of a file.
const StderrPath = "-"

// Role identifies one sink in a LogFileSet.
type Role int

const (
	RoleTranscript Role = iota
	RoleInputLog
	RoleOutputLog
	RoleCombinedLog
	RoleTimingLog
	roleCount
)

func (r Role) String() string {
	switch r {
	case RoleTranscript:
		return "typescript file"
	case RoleInputLog:
		return "input log file"
	case RoleOutputLog:
		return "output log file"
	case RoleCombinedLog:
		return "I/O log file"
	case RoleTimingLog:
		return "timing file"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

type sink struct {
	path string
	w    *bufio.Writer
	// closer is nil for sinks the set does not own, such as stderr.
	closer io.Closer
}

// LogFileSet owns every open output of a session. Only the event loop
// writes to it.
type LogFileSet struct {
	sinks  [roleCount]*sink
	timing *timing.Writer
	logger zerolog.Logger
}

// OpenLogFiles opens the transcript and every configured log. The
// transcript is subject to the link guard; explicitly named logs are not.
// On failure every file opened so far is closed.
func OpenLogFiles(cfg Config, logger zerolog.Logger) (*LogFileSet, error) {
	set := &LogFileSet{logger: logger}

	f, err := openOutputFile(cfg.Transcript, cfg.Append, cfg.Force)
	if err != nil {
		return nil, &SetupError{Op: "open output file", Err: err}
	}
	set.sinks[RoleTranscript] = newSink(cfg.Transcript, f, f)

	optional := []struct {
		role Role
		path string
		op   string
	}{
		{RoleInputLog, cfg.LogIn, "open input log file"},
		{RoleOutputLog, cfg.LogOut, "open output log file"},
		{RoleCombinedLog, cfg.LogIO, "open I/O log file"},
		{RoleTimingLog, cfg.LogTiming, "open timing log file"},
	}
	for _, o := range optional {
		if o.path == "" {
			continue
		}
		if o.path == StderrPath {
			set.sinks[o.role] = newSink(o.path, os.Stderr, nil)
			continue
		}
		f, err := openOutputFile(o.path, cfg.Append, true)
		if err != nil {
			set.Close()
			return nil, &SetupError{Op: o.op, Err: err}
		}
		set.sinks[o.role] = newSink(o.path, f, f)
	}

	if s := set.sinks[RoleTimingLog]; s != nil {
		set.timing = timing.NewWriter(s.w, cfg.TimingFormat)
	}
	return set, nil
}

func newSink(path string, w io.Writer, c io.Closer) *sink {
	return &sink{path: path, w: bufio.NewWriter(w), closer: c}
}

// Has reports whether the sink for role is open.
func (s *LogFileSet) Has(role Role) bool {
	return s.sinks[role] != nil
}

// Path returns the path the sink for role was opened with.
func (s *LogFileSet) Path(role Role) string {
	if sk := s.sinks[role]; sk != nil {
		return sk.path
	}
	return ""
}

// WriteInput mirrors bytes the caller typed to the input and combined logs
// and records the transfer in the timing log.
func (s *LogFileSet) WriteInput(p []byte, rec timing.Record, flush bool) {
	s.write(RoleInputLog, p, flush)
	s.write(RoleCombinedLog, p, flush)
	s.writeTiming(rec, flush)
}

// WriteOutput copies child output to the transcript, the output and
// combined logs, and records the transfer in the timing log.
func (s *LogFileSet) WriteOutput(p []byte, rec timing.Record, flush bool) {
	s.write(RoleTranscript, p, flush)
	s.write(RoleOutputLog, p, flush)
	s.write(RoleCombinedLog, p, flush)
	s.writeTiming(rec, flush)
}

func (s *LogFileSet) write(role Role, p []byte, flush bool) {
	sk := s.sinks[role]
	if sk == nil {
		return
	}
	if _, err := sk.w.Write(p); err != nil {
		s.logger.Warn().Err(err).Str("path", sk.path).Msgf("failed to write to %s", role)
		return
	}
	if flush {
		s.flushOne(role)
	}
}

func (s *LogFileSet) writeTiming(rec timing.Record, flush bool) {
	if s.timing == nil {
		return
	}
	if err := s.timing.Write(rec); err != nil {
		s.logger.Warn().Err(err).Str("path", s.sinks[RoleTimingLog].path).Msgf("failed to write to %s", RoleTimingLog)
		return
	}
	if flush {
		s.flushOne(RoleTimingLog)
	}
}

func (s *LogFileSet) flushOne(role Role) error {
	sk := s.sinks[role]
	if sk == nil {
		return nil
	}
	if err := sk.w.Flush(); err != nil {
		s.logger.Warn().Err(err).Str("path", sk.path).Msgf("failed to flush %s", role)
		return err
	}
	return nil
}

// Flush pushes buffered bytes of every open sink to the operating system.
// Failures are reported and do not stop the remaining sinks from flushing.
func (s *LogFileSet) Flush() {
	for role := Role(0); role < roleCount; role++ {
		s.flushOne(role)
	}
}

// Close flushes and closes every sink. It returns the joined close errors.
func (s *LogFileSet) Close() error {
	var errs []error
	for role := Role(0); role < roleCount; role++ {
		sk := s.sinks[role]
		if sk == nil {
			continue
		}
		if err := s.flushOne(role); err != nil {
			errs = append(errs, err)
		}
		if sk.closer != nil {
			if err := sk.closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", role, err))
			}
		}
		s.sinks[role] = nil
	}
	s.timing = nil
	return errors.Join(errs...)
}

// openOutputFile opens path for writing, truncating unless appending. Unless
// force or append is set, a symbolic link or a file with more than one hard
// link is refused so the default name cannot clobber another file.
func openOutputFile(path string, appendMode, force bool) (*os.File, error) {
	if !force && !appendMode {
		if err := checkLinkSafe(path); err != nil {
			return nil, err
		}
	}
	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(path, flags, 0o666)
}

func checkLinkSafe(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		// Missing files are created; other stat errors surface on open.
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s is a symbolic link", ErrRefusedUnsafeTarget, path)
	}
	if n := linkCount(info); n > 1 {
		return fmt.Errorf("%w: %s has %d links", ErrRefusedUnsafeTarget, path, n)
	}
	return nil
}
