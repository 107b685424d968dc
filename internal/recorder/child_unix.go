//go:build unix

package recorder

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"
)

// Child is the spawned process as the event loop sees it.
type Child interface {
	// Status reports the exit code without blocking. ok is false while the
	// process is still running.
	Status() (code int, ok bool)
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Terminate asks the process to exit.
	Terminate() error
}

// ChildSpec describes how to start the child.
type ChildSpec struct {
	// Path is the program; a bare name is looked up in $PATH.
	Path string
	// Args is the full argument vector, Args[0] included.
	Args []string
	// Env is the child's environment; nil inherits the parent's.
	Env []string
	Dir string

	Stdin, Stdout, Stderr *os.File

	// NewSession starts the child in its own session, detached from any
	// controlling terminal.
	NewSession bool
	// ControllingTerminal makes Stdin the child's controlling terminal.
	// It requires NewSession.
	ControllingTerminal bool
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	code int
}

// Spawn starts the child described by spec. The runtime performs the
// session, controlling-terminal and descriptor setup in the child before
// exec; every descriptor not named in spec is closed on exec.
func Spawn(spec ChildSpec) (Child, error) {
	cmd := exec.Command(spec.Path)
	if len(spec.Args) > 0 {
		cmd.Args = spec.Args
	}
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  spec.NewSession,
		Setctty: spec.ControllingTerminal,
		Ctty:    0, // fd 0 in the child is the subordinate side
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *process) wait() {
	_ = p.cmd.Wait()
	p.code = exitStatus(p.cmd.ProcessState)
	close(p.done)
}

func (p *process) Status() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Terminate() error {
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// terminate asks child to exit. A failure is only logged; the session is
// ending either way.
func terminate(child Child, logger zerolog.Logger) {
	if err := child.Terminate(); err != nil {
		logger.Warn().Err(err).Msg("failed to terminate child")
	}
}

// exitStatus maps a process state to a shell-style status: the exit code, or
// 128 plus the signal number for a signalled process.
func exitStatus(ps *os.ProcessState) int {
	if ps == nil {
		return 1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
