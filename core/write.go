package core

import (
	"golang.org/x/sys/unix"

	"github.com/searchktools/netcore/core/ring"
)

// Handle is passed to the external request handler after each read. It
// exposes the connection's input ring for framing and the output path
// for replies, without exposing the connection type itself.
type Handle struct {
	conn *connection
	ctx  *Context
}

// ExtractToTerminator scans the connection's input ring for term,
// delegating to ring.Buffer.ExtractToTerminator.
func (h *Handle) ExtractToTerminator(term byte) (ring.Extracted, bool) {
	return h.conn.input.ExtractToTerminator(term)
}

// SendResponse delivers the concatenation of buffers, in order, per the
// write path's DIRECT/BUFFERED state machine.
func (h *Handle) SendResponse(buffers ...[]byte) error {
	return h.ctx.sendResponse(h.conn, buffers)
}

// FilterManager returns the opaque collaborator core.Init was given.
func (h *Handle) FilterManager() FilterManager { return h.ctx.fm }

// Close idempotently closes the underlying connection.
func (h *Handle) Close() { h.conn.Close() }

// sendResponse is send-client-response: it routes to the buffered or
// direct path depending on the connection's current write state.
func (c *Context) sendResponse(conn *connection, buffers [][]byte) error {
	if len(buffers) == 0 {
		return nil
	}
	if conn.closed.Load() {
		return ErrClosed
	}
	if !c.running.Load() {
		return ErrShuttingDown
	}

	conn.outputMu.Lock()
	buffered := conn.useBufferedWrites
	conn.outputMu.Unlock()

	if buffered {
		return c.sendBuffered(conn, buffers)
	}
	return c.sendDirect(conn, buffers)
}

// sendBuffered copies every buffer into the output ring under the
// output lock. It re-checks useBufferedWrites after acquiring the
// lock, since the write watcher may have drained the ring and flipped
// back to DIRECT between the caller's first check and this one.
func (c *Context) sendBuffered(conn *connection, buffers [][]byte) error {
	conn.outputMu.Lock()
	if !conn.useBufferedWrites {
		conn.outputMu.Unlock()
		return c.sendDirect(conn, buffers)
	}

	for _, b := range buffers {
		conn.output.WriteBytes(b)
	}
	conn.outputMu.Unlock()
	return nil
}

// sendDirect writes every buffer straight to the socket via writev. A
// full write stays in DIRECT; a short write (including a transient
// error, which is treated as a zero-byte write) stashes the unsent
// suffix into the output ring, flips to BUFFERED, and schedules the
// write watcher.
func (c *Context) sendDirect(conn *connection, buffers [][]byte) error {
	total := 0
	for _, b := range buffers {
		total += len(b)
	}

	sent, err := unix.Writev(conn.fd, buffers)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR || err == unix.EWOULDBLOCK {
			sent = 0
		} else {
			c.log.Error().Err(err).Int("fd", conn.fd).Msg("writev failed")
			c.closeConnection(conn)
			return err
		}
	}
	if sent == total {
		return nil
	}

	c.bufferUnsent(conn, buffers, sent)
	return nil
}

// bufferUnsent copies the unsent suffix of buffers (everything after
// the first `sent` bytes, in call order) into the output ring and
// transitions the connection to BUFFERED.
func (c *Context) bufferUnsent(conn *connection, buffers [][]byte, sent int) {
	conn.outputMu.Lock()

	skipped := 0
	for _, b := range buffers {
		if skipped+len(b) <= sent {
			skipped += len(b)
			continue
		}
		offset := 0
		if skipped < sent {
			offset = sent - skipped
		}
		conn.output.WriteBytes(b[offset:])
		skipped += len(b)
	}

	conn.useBufferedWrites = true
	conn.outputMu.Unlock()

	c.queue.ScheduleWatcher(conn.writeWatcher)
}

// handleWrite runs when a connection's write watcher fires: flush as
// much of the output ring as the socket will accept. If the ring
// drains completely, transition back to DIRECT and stop re-arming the
// write watcher; otherwise reschedule it. conn is resolved by dispatch
// straight off the fired watcher's back-reference, never through the
// connection table.
func (c *Context) handleWrite(conn *connection) {
	if !conn.schedulable.Load() {
		return
	}

	conn.outputMu.Lock()

	vecs := conn.output.SetupWriteVectors()
	n, err := unix.Writev(conn.fd, iovecToBytes(vecs))

	switch {
	case err != nil && err != unix.EAGAIN && err != unix.EINTR && err != unix.EWOULDBLOCK:
		conn.outputMu.Unlock()
		c.log.Error().Err(err).Int("fd", conn.fd).Msg("writev failed")
		c.closeConnection(conn)
		return
	case err == nil && n == 0:
		conn.outputMu.Unlock()
		c.log.Debug().Int("fd", conn.fd).Msg("peer closed connection during buffered write")
		c.closeConnection(conn)
		return
	case err == nil:
		conn.output.AdvanceRead(n)
	}

	reschedule := true
	if conn.output.Len() == 0 {
		conn.useBufferedWrites = false
		reschedule = false
	}
	conn.outputMu.Unlock()

	if reschedule {
		c.queue.ScheduleWatcher(conn.writeWatcher)
	}
}
