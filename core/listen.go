package core

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/searchktools/netcore/core/poller"
)

// listenTCP binds and listens a non-blocking TCP socket on port and
// registers a read watcher for it with the poller. SO_REUSEADDR is set
// on the listening socket only, per the socket-option contract.
func (c *Context) listenTCP(port int) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("core: tcp socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: tcp setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: tcp bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: tcp listen :%d: %w", port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: tcp set nonblock: %w", err)
	}

	w := poller.NewWatcher(fd, poller.ModeRead)
	if err := c.p.Add(w); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: tcp poller add: %w", err)
	}

	c.tcpFD = fd
	c.tcpWatcher = w
	return nil
}

// listenUDP binds a non-blocking UDP socket on port and registers a
// read watcher. A port of 0 disables the UDP listener.
func (c *Context) listenUDP(port int) error {
	if port == 0 {
		c.udpFD = -1
		return nil
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("core: udp socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: udp bind :%d: %w", port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: udp set nonblock: %w", err)
	}

	w := poller.NewWatcher(fd, poller.ModeRead)
	if err := c.p.Add(w); err != nil {
		unix.Close(fd)
		return fmt.Errorf("core: udp poller add: %w", err)
	}

	c.udpFD = fd
	c.udpWatcher = w
	return nil
}

// acceptTCP drains every pending connection off the listening socket,
// setting the accepted-side socket options, publishing a connection
// record, installing its watchers, and scheduling its read watcher.
// The listener's own watcher is re-armed through the async queue
// rather than directly, since this runs outside the leader lock.
func (c *Context) acceptTCP() {
	for {
		if max := int64(c.cfg.MaxConns); max > 0 && c.activeConns.Load() >= max {
			// At the connection cap: stop draining the accept queue for
			// this pass and let the listener re-arm, standing in for
			// the RLIMIT_NOFILE-aware growth bound on the connection
			// table. New peers wait in the kernel's accept backlog
			// instead of being handed a record this process has no
			// room for.
			break
		}

		nfd, _, err := unix.Accept(c.tcpFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err != unix.EINTR {
				c.log.Error().Err(err).Msg("accept failed")
			}
			break
		}

		if err := setClientSockopts(nfd); err != nil {
			c.log.Warn().Err(err).Int("fd", nfd).Msg("failed to set client socket options")
			unix.Close(nfd)
			continue
		}

		conn := c.table.getOrCreate(c, nfd)
		conn.reopen(nfd)

		conn.readWatcher = poller.NewWatcher(nfd, poller.ModeRead)
		conn.writeWatcher = poller.NewWatcher(nfd, poller.ModeWrite)
		conn.readWatcher.SetOwner(conn)
		conn.writeWatcher.SetOwner(conn)
		conn.schedulable.Store(true)
		c.activeConns.Add(1)

		c.queue.ScheduleWatcher(conn.readWatcher)
	}

	c.queue.ScheduleWatcher(c.tcpWatcher)
}

// handleUDP logs and discards a fired UDP readiness event. UDP receive
// is an explicitly reserved, unimplemented path: every fired event is
// observed, not silently swallowed.
func (c *Context) handleUDP() {
	buf := discardBuf()
	n, _, err := unix.Recvfrom(c.udpFD, buf, 0)
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		c.log.Warn().Err(err).Msg("udp recv error")
	} else {
		c.log.Warn().Int("bytes", n).Msg("udp datagram received and discarded; udp handling is unimplemented")
	}
	releaseDiscardBuf(buf)

	c.queue.ScheduleWatcher(c.udpWatcher)
}

// setClientSockopts sets O_NONBLOCK, TCP_NODELAY, and SO_KEEPALIVE on
// an accepted socket, per the listener handler's socket-option contract.
func setClientSockopts(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("set TCP_NODELAY: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("set SO_KEEPALIVE: %w", err)
	}
	return nil
}
