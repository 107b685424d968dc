//go:build unix

package recorder

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/script/internal/shell"
)

// FlushSignal asks a running session to flush every open sink.
var FlushSignal os.Signal = syscall.SIGUSR1

// Run records one session. It opens the sinks, allocates a pseudo-terminal,
// applies the caller's window size and the echo policy, spawns the child and
// relays I/O until the session ends. Every failure before the child starts
// is a *SetupError and leaves nothing open.
func Run(cfg Config, stdio Stdio, logger zerolog.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	sinks, err := OpenLogFiles(cfg, logger)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close log files")
		}
	}()

	inputIsTerminal := term.IsTerminal(stdio.In.Fd())
	var mode *TerminalMode
	if inputIsTerminal {
		if mode, err = CaptureMode(stdio.In); err != nil {
			return Result{}, &SetupError{Op: "get terminal attributes", Err: err}
		}
	}

	master, slave, err := pty.Open()
	if err != nil {
		return Result{}, &SetupError{Op: "open pseudoterminal", Err: err}
	}
	defer master.Close()
	// Closed explicitly once the child holds its own copies.
	defer slave.Close()

	if inputIsTerminal {
		if err := copyWindowSize(stdio.In, master); err != nil {
			return Result{}, &SetupError{Op: "set window size", Err: err}
		}
	}
	if err := ApplyEcho(slave, mode, EchoEnabled(cfg.Echo, inputIsTerminal)); err != nil {
		return Result{}, &SetupError{Op: "set terminal attributes", Err: err}
	}

	if !cfg.Quiet {
		fmt.Fprintf(stdio.Out, "Script started, file is %s\n", cfg.Transcript)
	}

	sh := cfg.Shell
	if sh == "" {
		sh = shell.Resolve()
	}
	start := time.Now()
	child, err := Spawn(ChildSpec{
		Path:                sh,
		Args:                shell.Argv(sh, cfg.Command),
		Stdin:               slave,
		Stdout:              slave,
		Stderr:              slave,
		NewSession:          true,
		ControllingTerminal: true,
	})
	if err != nil {
		return Result{}, &SetupError{Op: "execute " + sh, Err: err}
	}
	slave.Close()
	logger.Debug().Str("shell", sh).Str("command", cfg.Command).Msg("child started")

	flag := &FlushFlag{}
	stop := NotifyFlush(flag, FlushSignal)
	defer stop()

	mux := NewMultiplexer(MuxConfig{
		Input:           stdio.In,
		Output:          stdio.Out,
		Master:          master,
		Child:           child,
		Sinks:           sinks,
		Limit:           NewSizeLimit(cfg.OutputLimit),
		FlushEveryWrite: cfg.Flush,
		Flush:           flag,
		Logger:          logger,
		Start:           start,
	})
	res, err := mux.Run()
	res.StartedAt, res.EndedAt = start, time.Now()
	if err != nil {
		if !res.ChildExited {
			terminate(child, logger)
		}
		return res, err
	}

	if !cfg.Quiet {
		fmt.Fprintf(stdio.Out, "Script done, file is %s\n", cfg.Transcript)
	}
	return res, nil
}
