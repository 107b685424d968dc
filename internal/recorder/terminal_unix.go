//go:build unix

package recorder

import (
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// TerminalMode is a snapshot of the caller's terminal settings. It is nil
// when the caller's input is not a terminal.
type TerminalMode struct {
	termios unix.Termios
}

// CaptureMode snapshots f's terminal settings. It returns nil, nil when f is
// not a terminal.
func CaptureMode(f *os.File) (*TerminalMode, error) {
	if !term.IsTerminal(f.Fd()) {
		return nil, nil
	}
	t, err := unix.IoctlGetTermios(int(f.Fd()), ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	return &TerminalMode{termios: *t}, nil
}

// EchoEnabled decides whether the subordinate side should echo. In auto mode
// a caller terminal already echoes locally, so the pseudo-terminal must not.
func EchoEnabled(mode EchoMode, inputIsTerminal bool) bool {
	switch mode {
	case EchoAlways:
		return true
	case EchoNever:
		return false
	default:
		return !inputIsTerminal
	}
}

// ApplyEcho sets the echo flag on the subordinate side. The caller's
// captured mode is used as the base when present, otherwise the subordinate
// side's own settings are.
func ApplyEcho(slave *os.File, base *TerminalMode, echo bool) error {
	fd := int(slave.Fd())
	var t unix.Termios
	if base != nil {
		t = base.termios
	} else {
		cur, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
		if err != nil {
			return err
		}
		t = *cur
	}
	if echo {
		t.Lflag |= unix.ECHO
	} else {
		t.Lflag &^= unix.ECHO
	}
	return unix.IoctlSetTermios(fd, ioctlSetTermios, &t)
}

// EchoSet reports whether f currently echoes input.
func EchoSet(f *os.File) (bool, error) {
	t, err := unix.IoctlGetTermios(int(f.Fd()), ioctlGetTermios)
	if err != nil {
		return false, err
	}
	return t.Lflag&unix.ECHO != 0, nil
}

// copyWindowSize gives the pseudo-terminal the caller's dimensions. A caller
// whose size cannot be read leaves the pseudo-terminal at its default.
func copyWindowSize(from, master *os.File) error {
	ws, err := pty.GetsizeFull(from)
	if err != nil {
		return nil
	}
	return pty.Setsize(master, ws)
}
