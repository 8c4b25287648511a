package core

import (
	"golang.org/x/sys/unix"
)

// handleRead runs when a connection's read watcher fires: it grows the
// input ring if it's getting full, issues readv, advances the write
// cursor by whatever arrived, and hands the connection to the external
// request handler. The read watcher is re-armed at the end, unless the
// handler or a peer close made the connection unschedulable. conn is
// resolved by dispatch straight off the fired watcher's back-reference,
// never through the connection table.
func (c *Context) handleRead(conn *connection) {
	if !conn.schedulable.Load() {
		return
	}

	if conn.input.AvailableForWrite() < int(float64(conn.input.Cap())*growBelowFraction) {
		conn.input.Grow()
	}

	vecs := conn.input.SetupReadVectors()
	n, err := unix.Readv(conn.fd, iovecToBytes(vecs))
	switch {
	case err != nil:
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			c.rearmRead(conn)
			return
		}
		c.log.Error().Err(err).Int("fd", conn.fd).Msg("readv failed")
		c.closeConnection(conn)
		return
	case n == 0:
		c.log.Debug().Int("fd", conn.fd).Msg("peer closed connection")
		c.closeConnection(conn)
		return
	}

	conn.input.AdvanceWrite(n)

	h := &Handle{conn: conn, ctx: c}
	if err := c.rh.HandleRequest(h); err != nil {
		c.log.Debug().Err(err).Int("fd", conn.fd).Msg("request handler closed connection")
		c.closeConnection(conn)
		return
	}

	c.rearmRead(conn)
}

func (c *Context) rearmRead(conn *connection) {
	if conn.schedulable.Load() {
		c.queue.ScheduleWatcher(conn.readWatcher)
	}
}

func (c *Context) closeConnection(conn *connection) {
	conn.Close()
}

// iovecToBytes adapts []unix.Iovec to the [][]byte shape unix.Readv/
// Writev expect, without copying the underlying bytes.
func iovecToBytes(vecs []unix.Iovec) [][]byte {
	out := make([][]byte, len(vecs))
	for i, v := range vecs {
		out[i] = iovecBytes(v)
	}
	return out
}
