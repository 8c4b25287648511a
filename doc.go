/*
Package netcore provides a leader-follower networking core for
line-delimited TCP/UDP servers, built directly on epoll/kqueue instead
of net.Listener's per-connection goroutine model.

Worker goroutines compete for a single leader lock around one blocking
call into the kernel's readiness mechanism; whichever goroutine is
leader hands the fired watcher off and releases the lock before running
the handler, so event dispatch is N-way parallel while only the poll
itself is serialized. Each connection carries a pair of circular
buffers — one for inbound bytes awaiting framing, one for outbound bytes
a short write could not flush directly — so that both readv/writev and
the worker pool avoid per-request allocation on the common path.

Quick Start

Basic usage example:

package main

import (
    "github.com/searchktools/netcore/app"
    "github.com/searchktools/netcore/config"
    "github.com/searchktools/netcore/core"
)

type echoHandler struct{}

func (echoHandler) Init() error { return nil }

func (echoHandler) HandleRequest(h *core.Handle) error {
    for {
        line, ok := h.ExtractToTerminator('\n')
        if !ok {
            return nil
        }
        // line.Data has its terminator overwritten with NUL, not
        // dropped, so trim it before re-terminating the echoed line.
        content := line.Data[:len(line.Data)-1]
        if err := h.SendResponse(content, []byte("\n")); err != nil {
            return err
        }
    }
}

func main() {
    cfg := config.New()
    application := app.New(cfg)
    application.Run(echoHandler{})
}

Modules

The module is organized into:

  - app: process lifecycle — logger setup, signal handling, startup/shutdown
  - config: configuration loading and management
  - core: connection table, leader-follower loop, read/write path state machine
  - core/ring: dual per-connection circular buffers with iovec scatter/gather
  - core/poller: I/O multiplexing (epoll on Linux, kqueue on BSD/Darwin)
  - core/queue: cross-goroutine async command queue for watcher scheduling
  - core/pools: object pooling (buffers, async commands) with GC tuning

For more information, see https://github.com/searchktools/netcore
*/
package netcore
