package pools

import (
	"runtime"
	"runtime/debug"
)

// gcBallast keeps the MinRetainExtra allocation reachable.
var gcBallast []byte

// GCConfig holds GC tuning parameters.
type GCConfig struct {
	// GOGC sets the garbage collection target percentage.
	// Default is 100. Lower values = more frequent GC but less memory.
	GOGC int

	// MemoryLimit sets a soft memory limit in bytes. 0 = no limit.
	MemoryLimit int64

	// MinRetainExtra is extra memory to retain up front, reducing GC
	// frequency during the early life of a long-running process.
	MinRetainExtra int64
}

// ApplyGCConfig applies GC tuning to reduce GC pressure.
func ApplyGCConfig(cfg GCConfig) {
	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}

	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}

	if cfg.MinRetainExtra > 0 {
		runtime.GC()
		gcBallast = make([]byte, cfg.MinRetainExtra)
	}
}

// OptimizeForHighThroughput applies GC settings favoring infrequent
// collection over a worker pool handling many short-lived connections.
func OptimizeForHighThroughput() {
	ApplyGCConfig(GCConfig{
		GOGC:           300,       // Very infrequent GC
		MinRetainExtra: 100 << 20, // 100MB baseline
	})
}
