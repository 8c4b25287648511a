// Package poller wraps the kernel readiness facility (epoll on Linux,
// kqueue on BSD/Darwin) behind the narrow set of operations the
// leader-follower event loop needs: start a watcher, stop a watcher, run
// one blocking iteration, break the loop, and a cross-thread wakeup
// watcher. Backend selection happens at build time via file-level build
// tags, mirroring how the teacher package split epoll.go/kqueue.go.
package poller

import "errors"

// Mode is the readiness direction a Watcher is interested in.
type Mode uint8

const (
	// ModeRead is readiness for incoming data.
	ModeRead Mode = iota
	// ModeWrite is readiness to accept outgoing data without blocking.
	ModeWrite
	// modeAsync is the internal mode used by the single async wakeup
	// watcher; callers never request it directly.
	modeAsync
)

// ErrClosed names the closed-poller condition. The epoll and kqueue
// backends do not return it: after Close their operations fail with the
// kernel's error for a closed descriptor.
var ErrClosed = errors.New("poller: closed")

// Watcher is a registered interest in readiness on a descriptor. It is
// opaque outside this package: platform implementations keep their own
// bookkeeping (epoll's fdState, kqueue's reads/writes maps) keyed by the
// watcher's fd. Its identity is
// preserved by Add/Stop/RunOnce across re-arms, so owner survives the
// whole lifetime of the watcher rather than being rebuilt on every call.
type Watcher struct {
	fd    int
	mode  Mode
	owner any
}

// NewWatcher builds a Watcher descriptor for fd/mode without registering
// it with the kernel. Used to pre-build a connection's read/write
// watcher at accept time, mirroring the original's ev_io_init/ev_io_start
// split: the descriptor exists before it is ever started via Add.
func NewWatcher(fd int, mode Mode) *Watcher {
	return &Watcher{fd: fd, mode: mode}
}

// Fd returns the descriptor a watcher was registered for.
func (w *Watcher) Fd() int { return w.fd }

// Mode returns the readiness direction a watcher is interested in.
func (w *Watcher) Mode() Mode { return w.mode }

// SetOwner attaches an opaque back-reference to the watcher (the
// connection record it belongs to). Set once, at accept time; RunOnce
// hands back the same *Watcher it was given, so the owner is resolvable
// straight off the fired watcher without a connection-table lookup, per
// the "via the watcher's back-pointer" resolution the read/write fast
// path requires.
func (w *Watcher) SetOwner(v any) { w.owner = v }

// Owner returns the back-reference SetOwner attached, or nil.
func (w *Watcher) Owner() any { return w.owner }

// Userdata is attached to a single RunOnce call, not to watchers, so the
// leader can record which watcher fired without walking a queue. RunOnce
// zeroes it at the start of every call, and one Userdata is reused
// across the lifetime of one worker goroutine.
type Userdata struct {
	Watcher *Watcher
	Events  Mode
}

// Poller is the I/O multiplexing interface the networking core depends
// on: register/stop a watcher, run one blocking iteration, break the
// loop, and the cross-thread wakeup watcher plumbing (AsyncWatcher,
// Signal, SetAsyncCallback) that lets the async command queue interrupt
// a blocked RunOnce call.
type Poller interface {
	// Add registers w (built with NewWatcher) for readiness
	// notifications, preserving its identity — and whatever owner
	// SetOwner attached — across every subsequent re-arm.
	Add(w *Watcher) error
	// Stop stops a watcher so it will not re-fire until re-armed.
	Stop(w *Watcher) error
	// RunOnce blocks until exactly one non-async watcher is ready, or
	// the async wakeup fires, in which case it is drained and handled
	// synchronously before RunOnce returns with u.Watcher == nil.
	RunOnce(u *Userdata) error
	// Break causes the current and any subsequent blocked RunOnce call
	// to return promptly without waiting on the kernel.
	Break()
	// AsyncWatcher returns the watcher used for cross-thread wakeups.
	// SetAsyncCallback must be called once before RunOnce is first used.
	AsyncWatcher() *Watcher
	// Signal wakes a RunOnce call currently blocked in the kernel,
	// coalescing with any other pending signal. Used by the async
	// command queue after enqueueing a command.
	Signal()
	// SetAsyncCallback registers the function RunOnce invokes
	// synchronously, inside the blocking call, when the async watcher
	// fires. This is how the async command queue is drained "inside
	// the loop" per the binding's design rationale.
	SetAsyncCallback(fn func())
	// Close releases the kernel readiness handle and any wakeup
	// primitives.
	Close() error
}
