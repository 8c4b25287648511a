package core

import "errors"

// initialTableSize is the starting capacity of the connection table;
// get-or-create doubles it as needed to cover a growing fd.
const initialTableSize = 256

// growBelowFraction is the share of input-ring capacity that must be
// free for writing: when less than this is available, handleRead grows
// the ring before issuing readv.
const growBelowFraction = 0.5

var (
	// ErrClosed is returned by operations attempted on a connection
	// whose descriptor has already been closed.
	ErrClosed = errors.New("core: connection closed")
	// ErrShuttingDown is returned by Handle.SendResponse once Shutdown
	// has begun.
	ErrShuttingDown = errors.New("core: shutting down")
)
