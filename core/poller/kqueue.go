//go:build darwin || freebsd || netbsd || openbsd
// +build darwin freebsd netbsd openbsd

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

const asyncIdent = ^uintptr(0) >> 1 // arbitrary stable identifier for the EVFILT_USER wakeup

// KqueuePoller is a kqueue-based I/O multiplexer. Unlike epoll, kqueue
// keys interest by (ident, filter) pairs, so a connection's read and
// write watchers register as two independent kevents on the same fd —
// no coalescing required. reads/writes remember the exact *Watcher each
// fd was registered with, so RunOnce can hand back the same identity
// (and its owner back-reference) instead of allocating a fresh one.
type KqueuePoller struct {
	kqfd   int
	events [1]unix.Kevent_t

	mu     sync.Mutex
	reads  map[int]*Watcher
	writes map[int]*Watcher
	async  *Watcher

	asyncCallback func()
	broken        bool
}

func filterFor(mode Mode) int16 {
	if mode == ModeWrite {
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_READ
}

// NewPoller creates a new Poller backed by kqueue.
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	p := &KqueuePoller{
		kqfd:   kqfd,
		reads:  make(map[int]*Watcher),
		writes: make(map[int]*Watcher),
	}

	userEv := unix.Kevent_t{
		Ident:  uint64(asyncIdent),
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kqfd, []unix.Kevent_t{userEv}, nil, nil); err != nil {
		unix.Close(kqfd)
		return nil, err
	}

	p.async = &Watcher{fd: -1, mode: modeAsync}
	return p, nil
}

// Add registers w for readiness on its fd/mode and remembers its
// identity so RunOnce can return the very same *Watcher (and its owner)
// when the kevent fires.
func (p *KqueuePoller) Add(w *Watcher) error {
	ev := unix.Kevent_t{
		Ident:  uint64(w.fd),
		Filter: filterFor(w.mode),
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}
	if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return err
	}

	p.mu.Lock()
	if w.mode == ModeWrite {
		p.writes[w.fd] = w
	} else {
		p.reads[w.fd] = w
	}
	p.mu.Unlock()
	return nil
}

// Stop removes a watcher's kevent registration.
func (p *KqueuePoller) Stop(w *Watcher) error {
	ev := unix.Kevent_t{
		Ident:  uint64(w.fd),
		Filter: filterFor(w.mode),
		Flags:  unix.EV_DELETE,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)

	p.mu.Lock()
	if w.mode == ModeWrite {
		delete(p.writes, w.fd)
	} else {
		delete(p.reads, w.fd)
	}
	p.mu.Unlock()
	return err
}

// RunOnce blocks until one kevent fires.
func (p *KqueuePoller) RunOnce(u *Userdata) error {
	u.Watcher = nil
	u.Events = 0

	p.mu.Lock()
	broken := p.broken
	p.mu.Unlock()
	if broken {
		return nil
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events[:], nil)
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
	if ev.Filter == unix.EVFILT_USER {
		if p.asyncCallback != nil {
			p.asyncCallback()
		}
		return nil
	}

	mode := ModeRead
	if ev.Filter == unix.EVFILT_WRITE {
		mode = ModeWrite
	}

	p.mu.Lock()
	var w *Watcher
	if mode == ModeWrite {
		w = p.writes[int(ev.Ident)]
	} else {
		w = p.reads[int(ev.Ident)]
	}
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	p.Stop(w)

	u.Watcher = w
	u.Events = mode
	return nil
}

// Break marks the poller broken and wakes a blocked RunOnce call.
func (p *KqueuePoller) Break() {
	p.mu.Lock()
	p.broken = true
	p.mu.Unlock()
	p.Signal()
}

// AsyncWatcher returns the EVFILT_USER-backed wakeup watcher.
func (p *KqueuePoller) AsyncWatcher() *Watcher { return p.async }

// SetAsyncCallback registers the drain callback invoked synchronously
// when the async watcher fires.
func (p *KqueuePoller) SetAsyncCallback(fn func()) { p.asyncCallback = fn }

// Signal triggers the EVFILT_USER wakeup; kqueue coalesces repeated
// triggers between reads of the event, giving the idempotent wakeup the
// async command queue relies on.
func (p *KqueuePoller) Signal() {
	ev := unix.Kevent_t{
		Ident:  uint64(asyncIdent),
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
}

// Close closes the kqueue descriptor.
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
