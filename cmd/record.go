package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/script/internal/bytesize"
	"github.com/fakeyudi/script/internal/recorder"
	"github.com/fakeyudi/script/internal/session"
	"github.com/fakeyudi/script/internal/shell"
	"github.com/fakeyudi/script/internal/timing"
)

// recordFlags mirrors the recording options on the root command.
type recordFlags struct {
	append       bool
	command      string
	echo         string
	returnStatus bool
	flush        bool
	force        bool
	logIO        string
	logIn        string
	logOut       string
	logTiming    string
	timing       string
	format       string
	outputLimit  string
	quiet        bool
}

var rec recordFlags

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&rec.append, "append", "a", false, "append the output to file or to typescript")
	f.StringVarP(&rec.command, "command", "c", "", "run command rather than an interactive shell")
	f.StringVarP(&rec.echo, "echo", "E", "auto", "echo input in the session: auto, always or never")
	f.BoolVarP(&rec.returnStatus, "return", "e", false, "return the exit status of the child process")
	f.BoolVarP(&rec.flush, "flush", "f", false, "flush output after each write")
	f.BoolVar(&rec.force, "force", false, "use the output file even when it is a link")
	f.StringVarP(&rec.logIO, "log-io", "B", "", "log input and output to `file`")
	f.StringVarP(&rec.logIn, "log-in", "I", "", "log input to `file`")
	f.StringVarP(&rec.logOut, "log-out", "O", "", "log output to `file`")
	f.StringVarP(&rec.logTiming, "log-timing", "T", "", "log timing information to `file`")
	f.StringVarP(&rec.timing, "timing", "t", "", "output timing data to stderr, or to `file`")
	f.Lookup("timing").NoOptDefVal = recorder.StderrPath
	_ = f.MarkDeprecated("timing", "use -T/--log-timing instead")
	f.StringVarP(&rec.format, "logging-format", "m", "", "force the classic or advanced timing log `format`")
	f.StringVarP(&rec.outputLimit, "output-limit", "o", "", "terminate when output reaches `size`")
	f.BoolVarP(&rec.quiet, "quiet", "q", false, "do not print the start and done messages")

	rootCmd.MarkFlagsMutuallyExclusive("log-io", "log-in")
	rootCmd.MarkFlagsMutuallyExclusive("log-io", "log-out")
}

// runRecord records one session and stores it in the history.
func runRecord(cmd *cobra.Command, args []string) error {
	rc, err := recorderConfig(cmd, args)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("transcript", rc.Transcript).
		Str("echo", rc.Echo.String()).
		Str("timing_format", rc.TimingFormat.String()).
		Uint64("output_limit", rc.OutputLimit).
		Msg("recording")

	res, err := recorder.Run(rc, recorder.Stdio{In: os.Stdin, Out: cmd.OutOrStdout()}, logger)
	if err != nil {
		return err
	}

	if cfg.HistoryEnabled() {
		saveHistory(rc, res)
	}

	if rc.ReturnExitStatus && res.ExitCode != 0 {
		return &ExitStatusError{Code: res.ExitCode}
	}
	return nil
}

// recorderConfig resolves flags over the merged config file values.
func recorderConfig(cmd *cobra.Command, args []string) (recorder.Config, error) {
	flags := cmd.Flags()
	rc := recorder.Config{
		Transcript:       recorder.DefaultTranscript,
		Append:           rec.append,
		Force:            rec.force,
		Command:          rec.command,
		ReturnExitStatus: rec.returnStatus,
		Flush:            rec.flush || (!flags.Changed("flush") && cfg.FlushEnabled()),
		Quiet:            rec.quiet || (!flags.Changed("quiet") && cfg.QuietEnabled()),
		LogIO:            rec.logIO,
		LogIn:            rec.logIn,
		LogOut:           rec.logOut,
		LogTiming:        rec.logTiming,
	}
	if len(args) > 0 {
		rc.Transcript = args[0]
	}
	if rc.LogTiming == "" && flags.Changed("timing") {
		rc.LogTiming = rec.timing
	}

	echo := rec.echo
	if !flags.Changed("echo") && cfg.Echo != "" {
		echo = cfg.Echo
	}
	mode, err := recorder.ParseEchoMode(echo)
	if err != nil {
		return rc, err
	}
	rc.Echo = mode

	format := rec.format
	if format == "" {
		format = cfg.LoggingFormat
	}
	if rc.TimingFormat, err = timing.ParseFormat(format); err != nil {
		return rc, err
	}

	limit := rec.outputLimit
	if !flags.Changed("output-limit") {
		limit = cfg.OutputLimit
	}
	if limit != "" {
		if rc.OutputLimit, err = bytesize.Parse(limit); err != nil {
			return rc, err
		}
		// Zero is how the recorder spells "unlimited", so it cannot be a budget.
		if rc.OutputLimit == 0 {
			return rc, fmt.Errorf("invalid output limit %q: must be at least one byte", limit)
		}
	}
	return rc, nil
}

// saveHistory writes a history record. Failures only warn: the recording
// itself already succeeded.
func saveHistory(rc recorder.Config, res recorder.Result) {
	store, err := session.NewSessionStore()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open session history")
		return
	}

	cwd, _ := os.Getwd()
	s := session.New(res.StartedAt, cwd)
	stop := res.EndedAt
	s.StopTime = &stop
	s.Shell = rc.Shell
	if s.Shell == "" {
		s.Shell = shell.Resolve()
	}
	s.Command = rc.Command
	s.OutputBytes = res.OutputBytes
	s.InputBytes = res.InputBytes
	s.LimitReached = res.LimitReached
	if res.ChildExited {
		code := res.ExitCode
		s.ExitCode = &code
	}

	logs := []struct{ role, path string }{
		{session.LogTranscript, rc.Transcript},
		{session.LogInput, rc.LogIn},
		{session.LogOutput, rc.LogOut},
		{session.LogIO, rc.LogIO},
		{session.LogTiming, rc.LogTiming},
	}
	for _, l := range logs {
		if l.path == "" {
			continue
		}
		s.Logs = append(s.Logs, session.LogFile{Role: l.role, Path: absPath(l.path)})
	}
	if rc.LogTiming != "" {
		s.TimingFormat = rc.TimingFormat.String()
	}

	if err := store.Save(s); err != nil {
		logger.Warn().Err(err).Msg("failed to save session history")
		return
	}
	logger.Debug().Str("id", s.ID).Dur("duration", s.Duration()).Msg("session saved")
}

func absPath(p string) string {
	if p == recorder.StderrPath {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// sessionLabel is how a record is named in messages.
func sessionLabel(s *session.Session) string {
	if s.Command != "" {
		return fmt.Sprintf("%s (%s)", s.ShortID(), s.Command)
	}
	return fmt.Sprintf("%s (%s)", s.ShortID(), shell.Name(s.Shell))
}
