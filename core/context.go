// Package core implements the leader-follower networking core: socket
// lifecycle, the connection table, the read and write path state
// machines, and the worker loop that serializes entry into the kernel
// readiness mechanism while letting handler dispatch run in parallel.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/searchktools/netcore/config"
	"github.com/searchktools/netcore/core/poller"
	"github.com/searchktools/netcore/core/pools"
	"github.com/searchktools/netcore/core/queue"
)

// FilterManager is an opaque collaborator threaded through to the
// request handler. The networking core never inspects it; callers
// type-assert Handle.FilterManager() back to their own concrete type.
type FilterManager interface{}

// RequestHandler is implemented by the caller and consumed by the
// networking core after every successful read.
type RequestHandler interface {
	// Init is called once, from Init, before any connection is accepted.
	Init() error
	// HandleRequest is invoked after each read with data newly
	// available in the connection's input ring. A non-nil return
	// closes the connection.
	HandleRequest(h *Handle) error
}

// Context holds everything one running networking core needs: the
// listeners, the poller, the async command queue, the connection table,
// and the leader-follower coordination state shared by every worker
// goroutine.
type Context struct {
	cfg *config.Config
	fm  FilterManager
	rh  RequestHandler
	log zerolog.Logger

	p     poller.Poller
	queue *queue.Queue

	tcpFD      int
	tcpWatcher *poller.Watcher
	udpFD      int
	udpWatcher *poller.Watcher

	leaderMu sync.Mutex
	workers  sync.WaitGroup
	running  atomic.Bool

	activeConns atomic.Int64

	table connTable
}

// Init allocates a Context, binds the configured TCP/UDP listeners,
// and installs the async wakeup watcher. It rolls back every resource
// it has acquired so far if any step fails, so a failed Init leaves no
// descriptors open.
func Init(cfg *config.Config, fm FilterManager, rh RequestHandler) (*Context, error) {
	if err := rh.Init(); err != nil {
		return nil, fmt.Errorf("core: request handler init: %w", err)
	}

	pollr, err := poller.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("core: poller init: %w", err)
	}

	ctx := &Context{
		cfg:   cfg,
		fm:    fm,
		rh:    rh,
		log:   log.With().Str("component", "core").Logger(),
		p:     pollr,
		tcpFD: -1,
		udpFD: -1,
	}
	ctx.queue = queue.New(pollr)
	ctx.table.init()
	ctx.running.Store(true)

	pools.OptimizeForHighThroughput()

	if err := ctx.listenTCP(cfg.TCPPort); err != nil {
		pollr.Close()
		return nil, err
	}
	if err := ctx.listenUDP(cfg.UDPPort); err != nil {
		ctx.closeListeners()
		pollr.Close()
		return nil, err
	}

	pollr.SetAsyncCallback(func() { ctx.drainAsync() })

	ctx.log.Info().Int("tcp_port", cfg.TCPPort).Int("udp_port", cfg.UDPPort).
		Int("worker_threads", cfg.WorkerThreads).Msg("networking core initialized")
	return ctx, nil
}

func (c *Context) closeListeners() {
	if c.tcpWatcher != nil {
		c.p.Stop(c.tcpWatcher)
	}
	if c.tcpFD >= 0 {
		closeFD(c.tcpFD)
		c.tcpFD = -1
	}
	if c.udpWatcher != nil {
		c.p.Stop(c.udpWatcher)
	}
	if c.udpFD >= 0 {
		closeFD(c.udpFD)
		c.udpFD = -1
	}
}

// drainAsync is invoked synchronously by the poller, inside a leader's
// blocking RunOnce call, whenever the async wakeup fires.
func (c *Context) drainAsync() {
	for _, cmd := range c.queue.Drain() {
		switch cmd.Kind() {
		case queue.CommandExit:
			c.p.Break()
		case queue.CommandScheduleWatcher:
			if w := cmd.Watcher(); w != nil {
				if err := c.p.Add(w); err != nil {
					c.log.Error().Err(err).Int("fd", w.Fd()).Msg("failed to re-arm watcher")
				}
			}
		default:
			c.log.Warn().Uint8("kind", uint8(cmd.Kind())).Msg("unknown async command")
		}
		queue.Release(cmd)
	}
}

// RunWorker enters the leader-follower loop. Call this once per worker
// goroutine; it returns only after Shutdown has driven should_run to
// false and this goroutine has had a chance to observe it.
func (c *Context) RunWorker() {
	c.workers.Add(1)
	defer c.workers.Done()

	u := &poller.Userdata{}
	for {
		c.leaderMu.Lock()
		if !c.running.Load() {
			c.leaderMu.Unlock()
			return
		}

		if err := c.p.RunOnce(u); err != nil {
			c.leaderMu.Unlock()
			c.log.Error().Err(err).Msg("poller iteration failed")
			continue
		}
		w := u.Watcher
		c.leaderMu.Unlock()

		if w == nil {
			continue
		}
		c.dispatch(w)
	}
}

// dispatch resolves the connection a fired watcher belongs to straight
// off the watcher itself — the back-reference SetOwner attached at
// accept time — so the hot read/write path never touches the
// connection table or its mutex.
func (c *Context) dispatch(w *poller.Watcher) {
	switch w.Fd() {
	case c.tcpFD:
		c.acceptTCP()
	case c.udpFD:
		c.handleUDP()
	default:
		conn, _ := w.Owner().(*connection)
		if conn == nil {
			return
		}
		if w.Mode() == poller.ModeWrite {
			c.handleWrite(conn)
		} else {
			c.handleRead(conn)
		}
	}
}

// Shutdown initiates graceful shutdown: it is safe to call from a
// signal-handling goroutine. It stops accepting new work, joins every
// worker, and closes every descriptor this context owns.
func (c *Context) Shutdown() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.queue.ScheduleExit()
	c.workers.Wait()

	c.closeListeners()

	c.table.closeAll(c)
	c.p.Close()
	c.log.Info().Msg("networking core shut down")
}

// TCPBoundPort returns the port the TCP listener is actually bound to,
// useful when Init was given port 0 and the kernel chose an ephemeral
// one.
func (c *Context) TCPBoundPort() (int, error) {
	sa, err := unix.Getsockname(c.tcpFD)
	if err != nil {
		return 0, err
	}
	addr, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("core: unexpected sockaddr type %T", sa)
	}
	return addr.Port, nil
}

func closeFD(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}
