// Package queue implements the async command queue the networking core
// uses to ask the event loop to start a watcher or exit. Producers can
// be any goroutine; the loop's watcher state must only be mutated from
// inside a leader's iteration, so commands are queued here and drained
// synchronously when the poller's async watcher fires.
package queue

import (
	"sync"

	"github.com/searchktools/netcore/core/poller"
	"github.com/searchktools/netcore/core/pools"
)

var commandPool = pools.NewFastPool(func() any { return new(Command) })

// Kind identifies what a Command asks the event loop to do.
type Kind uint8

const (
	// CommandExit asks the leader-follower loop to break.
	CommandExit Kind = iota
	// CommandScheduleWatcher asks the loop to (re-)start a watcher.
	CommandScheduleWatcher
)

// Command is one pending async request. The zero value is not useful;
// build one with NewExit or NewScheduleWatcher.
type Command struct {
	kind    Kind
	watcher *poller.Watcher
	next    *Command
}

// NewExit builds an EXIT command, recycled from the command pool.
func NewExit() *Command {
	c := commandPool.Get().(*Command)
	c.kind = CommandExit
	c.watcher = nil
	c.next = nil
	return c
}

// NewScheduleWatcher builds a SCHEDULE_WATCHER command for w, recycled
// from the command pool.
func NewScheduleWatcher(w *poller.Watcher) *Command {
	c := commandPool.Get().(*Command)
	c.kind = CommandScheduleWatcher
	c.watcher = w
	c.next = nil
	return c
}

// Release returns cmd to the pool. Call this after fully handling a
// command drained from the queue, mirroring the original's free-after-
// handling discipline.
func Release(cmd *Command) {
	cmd.watcher = nil
	cmd.next = nil
	commandPool.Put(cmd)
}

// Kind returns the command's kind.
func (c *Command) Kind() Kind { return c.kind }

// Watcher returns the watcher a SCHEDULE_WATCHER command refers to.
// It is nil for any other kind.
func (c *Command) Watcher() *poller.Watcher { return c.watcher }

// Queue is a LIFO list of pending commands guarded by a mutex. Ordering
// among pending commands carries no meaning: every command describes an
// idempotent goal, not a step in a sequence.
//
// The original networking core protects this list with a hand rolled
// spinlock on the theory that the critical section (a pointer swap) is
// too short to justify a park-capable lock. Go's sync.Mutex already
// spins briefly before parking a goroutine that contends on a
// short-held lock, so it gives the same property without a second
// implementation to maintain.
type Queue struct {
	mu   sync.Mutex
	head *Command
	p    poller.Poller
}

// New returns a Queue that signals p's async watcher whenever a command
// is scheduled.
func New(p poller.Poller) *Queue {
	return &Queue{p: p}
}

// Schedule pushes cmd onto the head of the list and wakes the poller.
// Signalling is idempotent: multiple pending commands before the loop
// next wakes coalesce into a single wakeup.
func (q *Queue) Schedule(cmd *Command) {
	q.mu.Lock()
	cmd.next = q.head
	q.head = cmd
	q.mu.Unlock()
	q.p.Signal()
}

// ScheduleExit is a convenience wrapper around Schedule(NewExit()).
func (q *Queue) ScheduleExit() { q.Schedule(NewExit()) }

// ScheduleWatcher is a convenience wrapper around
// Schedule(NewScheduleWatcher(w)).
func (q *Queue) ScheduleWatcher(w *poller.Watcher) { q.Schedule(NewScheduleWatcher(w)) }

// Drain takes the entire pending list under the lock, in one swap, and
// returns it as a slice in LIFO order. Call this from inside the
// poller's async callback, never from a producer goroutine.
func (q *Queue) Drain() []*Command {
	q.mu.Lock()
	head := q.head
	q.head = nil
	q.mu.Unlock()

	var cmds []*Command
	for c := head; c != nil; c = c.next {
		cmds = append(cmds, c)
	}
	return cmds
}
