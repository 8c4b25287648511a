package core

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/searchktools/netcore/core/poller"
	"github.com/searchktools/netcore/core/ring"
)

// connection is one accepted TCP connection's full state: its two
// rings, its watchers, and the output-lock-guarded write state
// machine. The fast read/write path resolves a connection straight off
// its fired watcher's owner back-reference (set once via
// poller.Watcher.SetOwner at accept time) and never touches the
// connection table's mutex; once a slot is published, access to the
// record itself is mediated by outputMu (for output) or by leader
// exclusion (for input).
type connection struct {
	fd int

	input  *ring.Buffer
	output *ring.Buffer

	readWatcher  *poller.Watcher
	writeWatcher *poller.Watcher

	outputMu          sync.Mutex
	useBufferedWrites bool

	schedulable atomic.Bool
	closed      atomic.Bool

	ctx *Context
}

func newConnection(ctx *Context, fd int) *connection {
	return &connection{
		fd:     fd,
		input:  ring.New(),
		output: ring.New(),
		ctx:    ctx,
	}
}

// reopen re-initializes an existing table slot for a freshly accepted
// fd, resetting both rings and the write state machine. Needed because
// getOrCreate reuses the record for a given table slot across the
// lifetime of the process, not just on first use.
func (c *connection) reopen(fd int) {
	c.fd = fd
	c.input.Reset()
	c.output.Reset()
	c.useBufferedWrites = false
	c.closed.Store(false)
}

// Close idempotently stops both watchers, resets both rings, and closes
// the descriptor. Safe to call more than once or from more than one
// goroutine; only the first caller does any work.
func (c *connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.schedulable.Store(false)

	if c.readWatcher != nil {
		c.ctx.p.Stop(c.readWatcher)
	}
	if c.writeWatcher != nil {
		c.ctx.p.Stop(c.writeWatcher)
	}

	c.outputMu.Lock()
	c.input.Reset()
	c.output.Reset()
	c.outputMu.Unlock()

	unix.Close(c.fd)
	c.ctx.activeConns.Add(-1)
}

// connTable is the fd-indexed slot array. Growth is the only operation
// that needs the mutex: once a slot is published, the fast path never
// acquires table.mu again.
type connTable struct {
	mu   sync.Mutex
	rows []*connection
}

func (t *connTable) init() {
	t.rows = make([]*connection, initialTableSize)
}

// getOrCreate returns the connection record for fd, growing the table
// and allocating a fresh record if this is the first time fd has been
// seen.
func (t *connTable) getOrCreate(ctx *Context, fd int) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd >= len(t.rows) {
		grown := make([]*connection, len(t.rows)*2)
		copy(grown, t.rows)
		t.rows = grown
	}

	if t.rows[fd] == nil {
		t.rows[fd] = newConnection(ctx, fd)
	}
	return t.rows[fd]
}

// closeAll closes every still-schedulable connection recorded in the
// table, called once during Shutdown after every worker has stopped.
func (t *connTable) closeAll(ctx *Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.rows {
		if conn != nil && conn.schedulable.Load() {
			conn.Close()
		}
	}
}
