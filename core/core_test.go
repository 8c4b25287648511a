package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/netcore/core/poller"
	"github.com/searchktools/netcore/core/queue"
)

// recordingPoller is a Poller stub that tracks how many goroutines are
// inside RunOnce concurrently, to exercise the leader-follower single
// active leader invariant without touching a real epoll/kqueue handle.
type recordingPoller struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int32
}

func (p *recordingPoller) Add(w *poller.Watcher) error  { return nil }
func (p *recordingPoller) Stop(w *poller.Watcher) error { return nil }

func (p *recordingPoller) RunOnce(u *poller.Userdata) error {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	u.Watcher = nil
	return nil
}

func (p *recordingPoller) Break()                    {}
func (p *recordingPoller) AsyncWatcher() *poller.Watcher { return nil }
func (p *recordingPoller) Signal()                    {}
func (p *recordingPoller) SetAsyncCallback(fn func()) {}
func (p *recordingPoller) Close() error               { return nil }

func newStubContext(p poller.Poller) *Context {
	c := &Context{
		log:   zerolog.Nop(),
		p:     p,
		tcpFD: -1,
		udpFD: -1,
	}
	c.queue = queue.New(p)
	c.table.init()
	c.running.Store(true)
	return c
}

// TestLeaderFollowerSingleActiveLeader asserts that no matter how many
// worker goroutines call RunWorker, at most one of them is ever inside
// RunOnce at a time: leaderMu serializes poll-wait, it does not
// serialize handler dispatch.
func TestLeaderFollowerSingleActiveLeader(t *testing.T) {
	fp := &recordingPoller{}
	c := newStubContext(fp)

	const workers = 6
	for i := 0; i < workers; i++ {
		go c.RunWorker()
	}

	time.Sleep(30 * time.Millisecond)
	c.Shutdown()

	if fp.maxActive > 1 {
		t.Fatalf("observed %d concurrent RunOnce calls, want at most 1", fp.maxActive)
	}
	if atomic.LoadInt32(&fp.calls) == 0 {
		t.Fatal("expected at least one RunOnce call before shutdown")
	}
	if c.running.Load() {
		t.Fatal("expected running to be false after Shutdown")
	}
}

// TestShutdownJoinsEveryWorker asserts Shutdown does not return until
// every RunWorker goroutine it started has observed should_run go
// false and exited its loop.
func TestShutdownJoinsEveryWorker(t *testing.T) {
	fp := &recordingPoller{}
	c := newStubContext(fp)

	const workers = 4
	var started sync.WaitGroup
	started.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			started.Done()
			c.RunWorker()
		}()
	}
	started.Wait()
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return within timeout; a worker failed to join")
	}
}

// newSocketpair returns two ends of a connected, non-blocking
// AF_UNIX/SOCK_STREAM pair, standing in for a TCP connection's client
// and accepted-server ends without needing a real network listener.
func newSocketpair(t *testing.T) (serverFD, peerFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	return fds[0], fds[1]
}

func readAll(t *testing.T, fd int, want int, timeout time.Duration) []byte {
	t.Helper()
	out := make([]byte, 0, want)
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for len(out) < want {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				if time.Now().After(deadline) {
					t.Fatalf("timed out waiting for %d bytes, got %d", want, len(out))
				}
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("read: %v", err)
		}
		out = append(out, buf[:n]...)
	}
	return out
}

// TestSendResponseDirectFullWrite exercises the DIRECT path end to end
// over a real socketpair: a payload well within the socket's send
// buffer is written straight through by writev, and the connection
// never transitions to BUFFERED.
func TestSendResponseDirectFullWrite(t *testing.T) {
	serverFD, peerFD := newSocketpair(t)
	defer unix.Close(peerFD)

	fp := &recordingPoller{}
	ctx := newStubContext(fp)
	conn := newConnection(ctx, serverFD)
	conn.readWatcher = poller.NewWatcher(serverFD, poller.ModeRead)
	conn.writeWatcher = poller.NewWatcher(serverFD, poller.ModeWrite)
	conn.schedulable.Store(true)

	if err := ctx.sendResponse(conn, [][]byte{[]byte("hello, "), []byte("world\n")}); err != nil {
		t.Fatalf("sendResponse: %v", err)
	}

	got := readAll(t, peerFD, len("hello, world\n"), time.Second)
	if string(got) != "hello, world\n" {
		t.Fatalf("got %q, want %q", got, "hello, world\n")
	}
	if conn.useBufferedWrites {
		t.Fatal("expected connection to remain in DIRECT mode after a full write")
	}
}

// TestSendResponseShortWriteBuffersInOrder forces a short write by
// shrinking the socket's send buffer well below the payload size, then
// drives the write watcher by hand until the output ring drains,
// asserting both that the connection round-trips through BUFFERED back
// to DIRECT and that byte order survives the split.
func TestSendResponseShortWriteBuffersInOrder(t *testing.T) {
	serverFD, peerFD := newSocketpair(t)
	defer unix.Close(peerFD)

	if err := unix.SetsockoptInt(serverFD, unix.SOL_SOCKET, unix.SO_SNDBUF, 2048); err != nil {
		t.Fatalf("shrink send buffer: %v", err)
	}

	fp := &recordingPoller{}
	ctx := newStubContext(fp)
	conn := newConnection(ctx, serverFD)
	conn.readWatcher = poller.NewWatcher(serverFD, poller.ModeRead)
	conn.writeWatcher = poller.NewWatcher(serverFD, poller.ModeWrite)
	conn.schedulable.Store(true)

	first := []byte("the quick brown fox jumps over the lazy dog\n")
	payload := make([]byte, 0, 64*1024)
	for len(payload) < 64*1024 {
		payload = append(payload, first...)
	}
	last := []byte("END\n")

	if err := ctx.sendResponse(conn, [][]byte{payload, last}); err != nil {
		t.Fatalf("sendResponse: %v", err)
	}

	want := len(payload) + len(last)

	// Drain the peer side concurrently so writev on the server side
	// keeps finding room, and drive handleWrite until the ring empties.
	readDone := make(chan []byte, 1)
	go func() {
		readDone <- readAll(t, peerFD, want, 5*time.Second)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.outputMu.Lock()
		empty := conn.output.Len() == 0 && !conn.useBufferedWrites
		conn.outputMu.Unlock()
		if empty {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out draining buffered output")
		}
		ctx.handleWrite(conn)
		time.Sleep(time.Millisecond)
	}

	got := <-readDone
	want2 := append(append([]byte{}, payload...), last...)
	if string(got) != string(want2) {
		t.Fatal("buffered write did not preserve byte order across the short-write split")
	}
}

// TestHandleExtractToTerminatorNullsTerminatorInPlace exercises the
// read-path framing contract through the Handle the request handler
// actually sees: the terminator byte is overwritten with NUL in the
// returned slice, never left as the original delimiter.
func TestHandleExtractToTerminatorNullsTerminatorInPlace(t *testing.T) {
	fp := &recordingPoller{}
	ctx := newStubContext(fp)
	conn := newConnection(ctx, -1)
	conn.input.WriteBytes([]byte("ping\n"))

	h := &Handle{conn: conn, ctx: ctx}
	got, ok := h.ExtractToTerminator('\n')
	if !ok {
		t.Fatal("expected a terminator to be found")
	}
	if string(got.Data) != "ping\x00" {
		t.Fatalf("got %q, want %q", got.Data, "ping\x00")
	}
	if got.Owned {
		t.Fatal("expected the fast, non-wrapped path to alias the ring, not own a copy")
	}
}
