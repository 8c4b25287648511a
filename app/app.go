// Package app wires process lifecycle around the networking core:
// configuration, signal-driven graceful shutdown, and starting one
// worker goroutine per configured thread.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/searchktools/netcore/config"
	"github.com/searchktools/netcore/core"
)

// App ties a Config to a running networking core.
type App struct {
	cfg *config.Config
	fm  core.FilterManager
}

// New creates an application instance from cfg and configures the
// global zerolog logger for cfg.Env: development gets a colorized,
// human-readable console writer when stderr is a terminal, production
// gets structured JSON.
func New(cfg *config.Config) *App {
	configureLogger(cfg.Env)
	return &App{cfg: cfg}
}

func configureLogger(env string) {
	if env != "development" {
		return
	}
	out := colorable.NewColorable(os.Stderr)
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
}

// WithFilterManager attaches an opaque collaborator the request handler
// can retrieve via Handle.FilterManager. Returns itself for chaining.
func (a *App) WithFilterManager(fm core.FilterManager) *App {
	a.fm = fm
	return a
}

// Run initializes the networking core with rh, starts
// cfg.WorkerThreads worker goroutines, and blocks until SIGINT or
// SIGTERM triggers a graceful shutdown.
func (a *App) Run(rh core.RequestHandler) error {
	ctx, err := core.Init(a.cfg, a.fm, rh)
	if err != nil {
		return fmt.Errorf("app: core init: %w", err)
	}

	port, err := ctx.TCPBoundPort()
	if err != nil {
		port = a.cfg.TCPPort
	}
	log.Info().Int("tcp_port", port).Int("worker_threads", a.cfg.WorkerThreads).
		Str("env", a.cfg.Env).Msg("netcore starting")

	for i := 0; i < a.cfg.WorkerThreads; i++ {
		go ctx.RunWorker()
	}

	a.awaitSignal(ctx)
	return nil
}

func (a *App) awaitSignal(ctx *core.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info().Stringer("signal", sig).Msg("signal received, shutting down")

	ctx.Shutdown()
}
