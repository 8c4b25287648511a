//go:build linux
// +build linux

package poller

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// fdState tracks the combined epoll registration for one descriptor.
// epoll keys interest by fd, not by direction, so a connection's read
// and write watchers (which share an fd) have to be coalesced into a
// single EPOLL_CTL_ADD/MOD/DEL call with an events mask built from
// whichever of the two is currently active.
type fdState struct {
	fd    int
	read  *Watcher
	write *Watcher
}

func (s *fdState) mask() uint32 {
	var m uint32
	if s.read != nil {
		m |= unix.EPOLLIN
	}
	if s.write != nil {
		m |= unix.EPOLLOUT
	}
	return m
}

// EpollPoller is an epoll-based I/O multiplexer.
type EpollPoller struct {
	epfd   int
	events [1]unix.EpollEvent

	mu    sync.Mutex
	fds   map[int]*fdState
	async *Watcher
	evfd  int

	asyncCallback func()
	broken        bool
}

// NewPoller creates a new Poller backed by epoll.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	evfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &EpollPoller{
		epfd: epfd,
		fds:  make(map[int]*fdState),
		evfd: evfd,
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(evfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, evfd, &ev); err != nil {
		unix.Close(evfd)
		unix.Close(epfd)
		return nil, err
	}

	p.async = &Watcher{fd: evfd, mode: modeAsync}
	return p, nil
}

// Add registers w, coalescing with any other watcher already registered
// on the same fd. w's identity (and whatever owner SetOwner attached to
// it) is preserved: Add never allocates a replacement Watcher, so a
// connection's read/write watcher keeps its back-reference across every
// re-arm.
func (p *EpollPoller) Add(w *Watcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.fds[w.fd]
	if !ok {
		state = &fdState{fd: w.fd}
		p.fds[w.fd] = state
	}
	if w.mode == ModeRead {
		state.read = w
	} else {
		state.write = w
	}

	ev := unix.EpollEvent{Events: state.mask(), Fd: int32(w.fd)}
	op := unix.EPOLL_CTL_MOD
	if !ok {
		op = unix.EPOLL_CTL_ADD
	}
	return unix.EpollCtl(p.epfd, op, w.fd, &ev)
}

// Stop disables a watcher's interest bit without disturbing the other
// watcher that may share the same fd.
func (p *EpollPoller) Stop(w *Watcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked(w)
}

func (p *EpollPoller) stopLocked(w *Watcher) error {
	state, ok := p.fds[w.fd]
	if !ok {
		return nil
	}
	if w.mode == ModeRead {
		state.read = nil
	} else {
		state.write = nil
	}

	mask := state.mask()
	if mask == 0 {
		delete(p.fds, w.fd)
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, w.fd, nil)
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(w.fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, w.fd, &ev)
}

// RunOnce blocks until one watcher is ready. If the fired fd carries
// both read and write interest, read takes priority for this iteration;
// the other direction remains armed and will be reported on a later
// call, which is a harmless level-triggered re-check, not a lost event.
func (p *EpollPoller) RunOnce(u *Userdata) error {
	u.Watcher = nil
	u.Events = 0

	p.mu.Lock()
	broken := p.broken
	p.mu.Unlock()
	if broken {
		return nil
	}

	n, err := unix.EpollWait(p.epfd, p.events[:], -1)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n <= 0 {
		return nil
	}

	ev := p.events[0]
	fd := int(ev.Fd)

	if fd == p.evfd {
		p.drainAsync()
		return nil
	}

	p.mu.Lock()
	state, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return nil
	}

	var chosen *Watcher
	var events Mode
	if ev.Events&unix.EPOLLIN != 0 && state.read != nil {
		chosen = state.read
		events = ModeRead
	} else if ev.Events&unix.EPOLLOUT != 0 && state.write != nil {
		chosen = state.write
		events = ModeWrite
	}
	if chosen != nil {
		p.stopLocked(chosen)
	}
	p.mu.Unlock()

	if chosen == nil {
		return nil
	}
	u.Watcher = chosen
	u.Events = events
	return nil
}

func (p *EpollPoller) drainAsync() {
	var buf [8]byte
	unix.Read(p.evfd, buf[:])
	if p.asyncCallback != nil {
		p.asyncCallback()
	}
}

// Break marks the poller broken; the current and every future RunOnce
// call returns immediately without blocking on the kernel.
func (p *EpollPoller) Break() {
	p.mu.Lock()
	p.broken = true
	p.mu.Unlock()
	p.signal()
}

func (p *EpollPoller) signal() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	unix.Write(p.evfd, buf[:])
}

// AsyncWatcher returns the eventfd-backed wakeup watcher. Signal it via
// the queue package, not directly.
func (p *EpollPoller) AsyncWatcher() *Watcher { return p.async }

// SetAsyncCallback registers the drain callback invoked synchronously
// when the async watcher fires.
func (p *EpollPoller) SetAsyncCallback(fn func()) { p.asyncCallback = fn }

// Signal wakes a blocked RunOnce call; exported for the queue package.
func (p *EpollPoller) Signal() { p.signal() }

// Close releases the epoll instance and the eventfd.
func (p *EpollPoller) Close() error {
	unix.Close(p.evfd)
	return unix.Close(p.epfd)
}
