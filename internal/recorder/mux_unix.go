//go:build unix

package recorder

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/fakeyudi/script/internal/timing"
)

const (
	// DefaultPollInterval bounds each wait so child liveness and the flush
	// flag are rechecked while no bytes flow.
	DefaultPollInterval = time.Second

	// drainQuiet is how long the final drain waits for more output once
	// the child has exited. The drain as a whole never outlasts one poll
	// interval.
	drainQuiet = 100 * time.Millisecond

	// readSize caps a single relay; it also bounds how far output may run
	// past the size limit.
	readSize = 1024
)

type loopState int

const (
	stateRunning loopState = iota
	stateChildExited
)

// outcome is what a single relay step tells the loop.
type outcome int

const (
	keepGoing outcome = iota
	endOfStream
	limitHit
	readFailed
)

// MuxConfig wires a Multiplexer to its descriptors, child and sinks.
type MuxConfig struct {
	Input  *os.File
	Output io.Writer
	// Master is the controlling side of the pseudo-terminal.
	Master *os.File
	Child  Child
	Sinks  *LogFileSet
	Limit  SizeLimit
	// FlushEveryWrite flushes every sink a transfer touched.
	FlushEveryWrite bool
	Flush           *FlushFlag
	Logger          zerolog.Logger
	// Start is the timing baseline; zero means now.
	Start        time.Time
	PollInterval time.Duration
}

// Multiplexer is the parent-side event loop of a session. It relays the
// caller's input to the pseudo-terminal and the pseudo-terminal's output to
// the caller, logging every transfer, until the child exits, closes its
// output, or exhausts the size limit.
type Multiplexer struct {
	cfg   MuxConfig
	now   func() time.Time
	last  time.Time
	state loopState

	inBuf  []byte
	outBuf []byte
	// pending holds input the pseudo-terminal has not accepted yet. Input
	// is not read again until it is empty.
	pending []byte

	exitCode     int
	exited       bool
	limitReached bool
	outBytes     uint64
	inBytes      uint64
}

// NewMultiplexer returns a loop ready to Run.
func NewMultiplexer(cfg MuxConfig) *Multiplexer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Flush == nil {
		cfg.Flush = &FlushFlag{}
	}
	m := &Multiplexer{
		cfg:    cfg,
		now:    time.Now,
		inBuf:  make([]byte, readSize),
		outBuf: make([]byte, readSize),
	}
	m.last = cfg.Start
	if m.last.IsZero() {
		m.last = m.now()
	}
	return m
}

// Run drives the loop to completion. The caller's input is put into
// non-blocking mode for the duration and restored afterwards. An error is
// returned only when the loop could not start or the wait itself failed.
func (m *Multiplexer) Run() (Result, error) {
	inFd := int(m.cfg.Input.Fd())
	masterFd := int(m.cfg.Master.Fd())

	inFlags, err := unix.FcntlInt(uintptr(inFd), unix.F_GETFL, 0)
	if err != nil {
		return m.result(), &SetupError{Op: "get stdin flags", Err: err}
	}
	if _, err := unix.FcntlInt(uintptr(inFd), unix.F_SETFL, inFlags|unix.O_NONBLOCK); err != nil {
		return m.result(), &SetupError{Op: "set stdin flags", Err: err}
	}
	defer m.restoreInput(inFd, inFlags)

	if err := unix.SetNonblock(masterFd, true); err != nil {
		return m.result(), &SetupError{Op: "set master PTY flags", Err: err}
	}

	fds := []unix.PollFd{
		{Fd: int32(inFd), Events: unix.POLLIN},
		{Fd: int32(masterFd), Events: unix.POLLIN},
	}
	timeout := int(m.cfg.PollInterval / time.Millisecond)

	ended := keepGoing
	inputOpen := true
	for m.state == stateRunning {
		// Poll ignores negative descriptors.
		fds[0].Fd = -1
		if inputOpen && len(m.pending) == 0 {
			fds[0].Fd = int32(inFd)
		}
		fds[1].Events = unix.POLLIN
		if len(m.pending) > 0 {
			fds[1].Events |= unix.POLLOUT
		}
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, timeout); err != nil {
			if err == unix.EINTR {
				if m.checkChild() {
					m.state = stateChildExited
				}
				continue
			}
			return m.result(), fmt.Errorf("wait for terminal I/O: %w", err)
		}

		exited := m.checkChild()

		if m.cfg.Flush.TakeAndClear() {
			m.cfg.Sinks.Flush()
		}

		if fds[0].Fd >= 0 && fds[0].Revents != 0 {
			inputOpen = m.relayInput(inFd, masterFd)
		}

		if len(m.pending) > 0 && fds[1].Revents&unix.POLLOUT != 0 {
			m.writePending(masterFd)
		}

		if fds[1].Revents&^unix.POLLOUT != 0 {
			if ended = m.relayOutput(masterFd); ended != keepGoing {
				break
			}
		}

		if exited {
			m.state = stateChildExited
		}
	}

	switch {
	case m.state == stateChildExited:
		m.drain(masterFd)
	case ended == endOfStream && !m.exited:
		// The child closed its output; give it one interval to report.
		select {
		case <-m.cfg.Child.Done():
			m.checkChild()
		case <-time.After(m.cfg.PollInterval):
		}
	}
	return m.result(), nil
}

// relayInput moves one read of caller input to the pseudo-terminal. It
// returns false when input should no longer be polled.
func (m *Multiplexer) relayInput(inFd, masterFd int) bool {
	n, err := unix.Read(inFd, m.inBuf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return true
		}
		m.cfg.Logger.Warn().Err(err).Msg("failed to read from stdin")
		return false
	}
	if n == 0 {
		// End of input; the child may still be producing output.
		return false
	}

	p := m.inBuf[:n]
	m.cfg.Sinks.WriteInput(p, m.stamp(timing.Input, n), m.cfg.FlushEveryWrite)
	m.inBytes += uint64(n)

	m.pending = append(m.pending[:0], p...)
	m.writePending(masterFd)
	return true
}

// writePending writes as much held input as the pseudo-terminal accepts
// without blocking. The rest waits for the master side to become writable.
func (m *Multiplexer) writePending(masterFd int) {
	for len(m.pending) > 0 {
		n, err := unix.Write(masterFd, m.pending)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err != nil:
			m.cfg.Logger.Warn().Err(err).Msg("failed to write to master PTY")
			m.pending = m.pending[:0]
			return
		case n == 0:
			return
		}
		m.pending = m.pending[n:]
	}
}

// relayOutput moves one read of child output to the caller and the sinks.
func (m *Multiplexer) relayOutput(masterFd int) outcome {
	n, err := unix.Read(masterFd, m.outBuf)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
			return keepGoing
		case unix.EIO:
			// Linux reports a closed subordinate side as EIO.
			return endOfStream
		}
		m.cfg.Logger.Error().Err(err).Msg("failed to read from master PTY")
		return readFailed
	}
	if n == 0 {
		return endOfStream
	}
	return m.handleOutput(m.outBuf[:n])
}

func (m *Multiplexer) handleOutput(p []byte) outcome {
	rec := m.stamp(timing.Output, len(p))
	if _, err := m.cfg.Output.Write(p); err != nil {
		m.cfg.Logger.Warn().Err(err).Msg("failed to write to stdout")
	}
	m.cfg.Sinks.WriteOutput(p, rec, m.cfg.FlushEveryWrite)

	m.outBytes += uint64(len(p))
	if m.cfg.Limit.Exceeded(m.outBytes) {
		terminate(m.cfg.Child, m.cfg.Logger)
		m.cfg.Logger.Info().
			Uint64("limit", m.cfg.Limit.Bytes()).
			Msgf("Output limit reached (%d bytes), terminating.", m.cfg.Limit.Bytes())
		m.limitReached = true
		return limitHit
	}
	return keepGoing
}

// drain relays output still buffered in the pseudo-terminal after the child
// exited. It stops at end of stream, the size limit, once no output has
// arrived for drainQuiet, or one poll interval after it started. A
// descendant that keeps the terminal open cannot hold the session past that.
func (m *Multiplexer) drain(masterFd int) {
	deadline := m.now().Add(m.cfg.PollInterval)
	fds := []unix.PollFd{{Fd: int32(masterFd), Events: unix.POLLIN}}
	for {
		left := deadline.Sub(m.now())
		if left <= 0 {
			return
		}
		n, err := unix.Poll(fds, int(min(left, drainQuiet)/time.Millisecond))
		if m.cfg.Flush.TakeAndClear() {
			m.cfg.Sinks.Flush()
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return
		}
		if m.relayOutput(masterFd) != keepGoing {
			return
		}
	}
}

func (m *Multiplexer) stamp(dir timing.Direction, n int) timing.Record {
	now := m.now()
	rec := timing.Record{Direction: dir, Elapsed: now.Sub(m.last), Bytes: n}
	m.last = now
	return rec
}

func (m *Multiplexer) checkChild() bool {
	if m.exited {
		return true
	}
	if code, ok := m.cfg.Child.Status(); ok {
		m.exited, m.exitCode = true, code
	}
	return m.exited
}

func (m *Multiplexer) restoreInput(fd, flags int) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags); err != nil {
		m.cfg.Logger.Warn().Err(err).Msg("failed to restore stdin flags")
	}
}

func (m *Multiplexer) result() Result {
	return Result{
		ExitCode:     m.exitCode,
		ChildExited:  m.exited,
		LimitReached: m.limitReached,
		OutputBytes:  m.outBytes,
		InputBytes:   m.inBytes,
	}
}
