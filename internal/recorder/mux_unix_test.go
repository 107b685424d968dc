//go:build unix

package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/fakeyudi/script/internal/timing"
)

// fakeChild stands in for the spawned shell.
type fakeChild struct {
	done       chan struct{}
	once       sync.Once
	code       int
	terminated atomic.Bool
	termErr    error
}

func newFakeChild() *fakeChild { return &fakeChild{done: make(chan struct{})} }

func (c *fakeChild) exit(code int) {
	c.once.Do(func() {
		c.code = code
		close(c.done)
	})
}

func (c *fakeChild) Status() (int, bool) {
	select {
	case <-c.done:
		return c.code, true
	default:
		return 0, false
	}
}

func (c *fakeChild) Done() <-chan struct{} { return c.done }

func (c *fakeChild) Terminate() error {
	c.terminated.Store(true)
	return c.termErr
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// muxHarness runs a Multiplexer against a socket pair standing in for the
// pseudo-terminal. peer is the child's end.
type muxHarness struct {
	t      *testing.T
	cfg    Config
	inR    *os.File
	inW    *os.File
	master *os.File
	peer   *os.File
	out    *syncBuffer
	child  *fakeChild
	flag   *FlushFlag
	sinks  *LogFileSet
	done   chan muxResult
}

type muxResult struct {
	res Result
	err error
}

func newMuxHarness(t *testing.T, cfg Config) *muxHarness {
	t.Helper()
	dir := t.TempDir()
	if cfg.Transcript == "" {
		cfg.Transcript = filepath.Join(dir, "typescript")
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	master := os.NewFile(uintptr(fds[0]), "master")
	peer := os.NewFile(uintptr(fds[1]), "peer")

	inR, inW, err := os.Pipe()
	require.NoError(t, err)

	sinks, err := OpenLogFiles(cfg, zerolog.Nop())
	require.NoError(t, err)

	h := &muxHarness{
		t:      t,
		cfg:    cfg,
		inR:    inR,
		inW:    inW,
		master: master,
		peer:   peer,
		out:    &syncBuffer{},
		child:  newFakeChild(),
		flag:   &FlushFlag{},
		sinks:  sinks,
		done:   make(chan muxResult, 1),
	}
	t.Cleanup(func() {
		h.peer.Close()
		h.master.Close()
		h.inW.Close()
		h.inR.Close()
	})
	return h
}

func (h *muxHarness) start(limit uint64, flushEveryWrite bool) {
	m := NewMultiplexer(MuxConfig{
		Input:           h.inR,
		Output:          h.out,
		Master:          h.master,
		Child:           h.child,
		Sinks:           h.sinks,
		Limit:           NewSizeLimit(limit),
		FlushEveryWrite: flushEveryWrite,
		Flush:           h.flag,
		Logger:          zerolog.Nop(),
		PollInterval:    50 * time.Millisecond,
	})
	go func() {
		res, err := m.Run()
		h.done <- muxResult{res, err}
	}()
}

// wait returns the loop's result and closes the sinks.
func (h *muxHarness) wait() Result {
	h.t.Helper()
	select {
	case r := <-h.done:
		require.NoError(h.t, r.err)
		require.NoError(h.t, h.sinks.Close())
		return r.res
	case <-time.After(5 * time.Second):
		h.t.Fatal("multiplexer did not finish")
		return Result{}
	}
}

func (h *muxHarness) readPeer(n int) string {
	h.t.Helper()
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, n)
		var off int
		for off < n {
			k, err := h.peer.Read(buf[off:])
			if err != nil {
				break
			}
			off += k
		}
		got <- string(buf[:off])
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(5 * time.Second):
		h.t.Fatal("nothing reached the child")
		return ""
	}
}

func sumTimingBytes(t *testing.T, data string, dir timing.Direction) int {
	t.Helper()
	records, err := timing.Parse(strings.NewReader(data))
	require.NoError(t, err)
	var total int
	for _, r := range records {
		if r.Direction == dir {
			total += r.Bytes
		}
	}
	return total
}

func TestMultiplexerRelaysOutputToEverySink(t *testing.T) {
	dir := t.TempDir()
	h := newMuxHarness(t, Config{
		LogOut:       filepath.Join(dir, "out.log"),
		LogTiming:    filepath.Join(dir, "timing.log"),
		TimingFormat: timing.Advanced,
	})
	h.start(0, false)

	_, err := h.peer.Write([]byte("hello world\n"))
	require.NoError(t, err)
	h.child.exit(3)
	h.peer.Close()

	res := h.wait()
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, res.ChildExited)
	assert.Equal(t, uint64(12), res.OutputBytes)

	assert.Equal(t, "hello world\n", h.out.String())
	assert.Equal(t, "hello world\n", readFile(t, h.cfg.Transcript))
	assert.Equal(t, "hello world\n", readFile(t, h.cfg.LogOut))
	assert.Equal(t, 12, sumTimingBytes(t, readFile(t, h.cfg.LogTiming), timing.Output))
}

func TestMultiplexerRelaysInput(t *testing.T) {
	dir := t.TempDir()
	h := newMuxHarness(t, Config{
		LogIO:        filepath.Join(dir, "io.log"),
		LogTiming:    filepath.Join(dir, "timing.log"),
		TimingFormat: timing.Advanced,
	})
	h.start(0, false)

	_, err := h.inW.Write([]byte("ls -l\n"))
	require.NoError(t, err)
	assert.Equal(t, "ls -l\n", h.readPeer(6))

	h.peer.Close()
	res := h.wait()

	assert.Equal(t, uint64(6), res.InputBytes)
	assert.Empty(t, readFile(t, h.cfg.Transcript), "input never reaches the transcript")
	assert.Equal(t, "ls -l\n", readFile(t, h.cfg.LogIO))

	timingData := readFile(t, h.cfg.LogTiming)
	assert.True(t, strings.HasPrefix(timingData, "I "), timingData)
	assert.Equal(t, 6, sumTimingBytes(t, timingData, timing.Input))
}

func TestMultiplexerInputEOFKeepsSessionAlive(t *testing.T) {
	h := newMuxHarness(t, Config{})
	h.start(0, false)

	h.inW.Close()
	time.Sleep(150 * time.Millisecond)

	_, err := h.peer.Write([]byte("still here"))
	require.NoError(t, err)
	h.peer.Close()

	res := h.wait()
	assert.Equal(t, "still here", h.out.String())
	assert.Zero(t, res.InputBytes)
}

func TestMultiplexerEndOfStreamWithoutExit(t *testing.T) {
	h := newMuxHarness(t, Config{})
	h.start(0, false)

	h.peer.Close()
	res := h.wait()
	assert.False(t, res.ChildExited)
	assert.Zero(t, res.ExitCode)
}

func TestMultiplexerStopsAtSizeLimit(t *testing.T) {
	h := newMuxHarness(t, Config{})
	h.start(1024, false)

	payload := bytes.Repeat([]byte("y\n"), 8192)
	go func() { _, _ = h.peer.Write(payload) }()

	res := h.wait()
	assert.True(t, res.LimitReached)
	assert.True(t, h.child.terminated.Load())
	assert.False(t, res.ChildExited)

	size := len(readFile(t, h.cfg.Transcript))
	assert.GreaterOrEqual(t, size, 1024)
	assert.Less(t, size, 1024+readSize)
	assert.Equal(t, uint64(size), res.OutputBytes)
}

func TestMultiplexerFlushesOnRequest(t *testing.T) {
	h := newMuxHarness(t, Config{})
	h.start(0, false)

	_, err := h.peer.Write([]byte("pending"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.out.String() == "pending" }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, readFile(t, h.cfg.Transcript))

	h.flag.Set()
	assert.Eventually(t, func() bool {
		data, _ := os.ReadFile(h.cfg.Transcript)
		return string(data) == "pending"
	}, 2*time.Second, 10*time.Millisecond)

	h.peer.Close()
	h.wait()
}

func TestMultiplexerFlushEveryWrite(t *testing.T) {
	h := newMuxHarness(t, Config{})
	h.start(0, true)

	_, err := h.peer.Write([]byte("now"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		data, _ := os.ReadFile(h.cfg.Transcript)
		return string(data) == "now"
	}, 2*time.Second, 10*time.Millisecond)

	h.peer.Close()
	h.wait()
}

func TestMultiplexerDrainsAfterChildExit(t *testing.T) {
	h := newMuxHarness(t, Config{})
	h.start(0, false)

	_, err := h.peer.Write([]byte("last words"))
	require.NoError(t, err)
	h.child.exit(7)

	res := h.wait()
	assert.Equal(t, 7, res.ExitCode)
	assert.True(t, res.ChildExited)
	assert.Equal(t, "last words", readFile(t, h.cfg.Transcript))
}

func TestMultiplexerRestoresInputFlags(t *testing.T) {
	h := newMuxHarness(t, Config{})
	fd := h.inR.Fd()
	before, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	require.NoError(t, err)

	h.start(0, false)
	h.child.exit(0)
	h.wait()

	after, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMultiplexerDrainEndsWhileOutputContinues(t *testing.T) {
	h := newMuxHarness(t, Config{})

	// A descendant that outlives the child and keeps writing.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if _, err := h.peer.Write([]byte("tick\n")); err != nil {
					return
				}
			}
		}
	}()

	h.start(0, false)
	time.Sleep(60 * time.Millisecond)
	h.child.exit(0)

	begin := time.Now()
	res := h.wait()
	assert.True(t, res.ChildExited)
	assert.Less(t, time.Since(begin), time.Second)
	assert.Contains(t, h.out.String(), "tick\n")
}

func TestMultiplexerKeepsReadingOutputWhileInputIsBlocked(t *testing.T) {
	h := newMuxHarness(t, Config{})

	// The child echoes everything back and stops reading while its own
	// writes are blocked.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := h.peer.Read(buf)
			if err != nil {
				return
			}
			if _, err := h.peer.Write(buf[:n]); err != nil {
				return
			}
		}
	}()
	go func() {
		chunk := bytes.Repeat([]byte("y\n"), 4096)
		for {
			if _, err := h.inW.Write(chunk); err != nil {
				return
			}
		}
	}()

	const limit = 200000
	h.start(limit, false)

	res := h.wait()
	assert.True(t, res.LimitReached)
	assert.True(t, h.child.terminated.Load())
	assert.GreaterOrEqual(t, res.OutputBytes, uint64(limit))
	assert.Greater(t, res.InputBytes, uint64(0))
}

func TestMultiplexerLimitCountsOutputOnly(t *testing.T) {
	dir := t.TempDir()
	h := newMuxHarness(t, Config{LogIn: filepath.Join(dir, "in.log")})
	h.start(8, false)

	input := strings.Repeat("0123456789", 10)
	_, err := h.inW.Write([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, input, h.readPeer(len(input)))

	_, err = h.peer.Write([]byte("ok"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.out.String() == "ok" }, 2*time.Second, 10*time.Millisecond)
	h.child.exit(0)

	res := h.wait()
	assert.False(t, res.LimitReached)
	assert.False(t, h.child.terminated.Load())
	assert.Equal(t, uint64(len(input)), res.InputBytes)
	assert.Equal(t, uint64(2), res.OutputBytes)
	assert.Equal(t, input, readFile(t, h.cfg.LogIn))
}
