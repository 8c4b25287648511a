package config

import (
	"flag"
	"runtime"

	"github.com/rs/zerolog/log"
)

// Config holds the networking core's startup configuration: which
// ports to bind, how many leader-follower worker goroutines to run,
// and the environment tag used to pick a logging format.
type Config struct {
	TCPPort       int    `config:"tcp.port"`
	UDPPort       int    `config:"udp.port"`
	WorkerThreads int    `config:"worker.threads"`
	MaxConns      int    `config:"max.conns"`
	Env           string `config:"env"`
}

// New loads configuration from flags, then layers an optional JSON
// config file and environment variables on top via Manager: flags set
// the defaults, -config-file overlays them if given, and
// NETCORE_-prefixed environment variables (e.g. NETCORE_TCP_PORT) take
// final precedence. The merged values are reflected back into Config
// with Manager.Unmarshal, so a field only changes if the file or an
// env var actually set it.
func New() *Config {
	cfg := &Config{}
	var configFile string

	flag.IntVar(&cfg.TCPPort, "tcp-port", 8080, "TCP listen port")
	flag.IntVar(&cfg.UDPPort, "udp-port", 8081, "UDP listen port")
	flag.IntVar(&cfg.WorkerThreads, "worker-threads", runtime.NumCPU(), "leader-follower worker goroutine count")
	flag.IntVar(&cfg.MaxConns, "max-conns", 0, "maximum concurrently accepted connections (0 = unbounded)")
	flag.StringVar(&cfg.Env, "env", "development", "environment (development/production)")
	flag.StringVar(&configFile, "config-file", "", "optional JSON config file overlaying the flag defaults")

	flag.Parse()

	mgr := NewManager()
	if configFile != "" {
		if err := mgr.LoadFromJSON(configFile); err != nil {
			log.Warn().Err(err).Str("path", configFile).Msg("failed to load config file, keeping flag defaults")
		}
	}
	mgr.LoadFromEnv("NETCORE")
	if err := mgr.Unmarshal("", cfg); err != nil {
		log.Warn().Err(err).Msg("failed to overlay config file/env values onto flag defaults")
	}

	if cfg.WorkerThreads < 1 {
		cfg.WorkerThreads = 1
	}
	return cfg
}
