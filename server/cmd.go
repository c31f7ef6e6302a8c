package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paintbynum/catalog"
	"paintbynum/config"
	"paintbynum/parallel"
	"paintbynum/quantize"

	"github.com/alecthomas/kong"
)

// shutdownTimeout is the minimum time in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

var errShutdown = errors.New("could not shut down cleanly")

type CLICmd struct {
	Config     string `help:"TOML configuration file" type:"path" short:"c"`
	Listen     string `help:"Address to listen on, overrides the configuration file"`
	DumpConfig bool   `help:"Print the effective configuration as TOML and exit"`

	conf *config.Config `kong:"-"`
	out  io.Writer      `kong:"-"`
}

func (c *CLICmd) Validate(kctx *kong.Context) error {
	conf := config.Default()
	if c.Config != "" {
		var err error
		if conf, err = config.Load(c.Config); err != nil {
			return err
		}
	}
	if c.Listen != "" {
		conf.Listen = c.Listen
	}
	c.conf = conf
	return conf.Validate()
}

func (c *CLICmd) Run(pool *parallel.Pool, logger *slog.Logger) error {
	conf := c.conf
	if c.DumpConfig {
		if c.out == nil {
			c.out = os.Stdout
		}
		return conf.Write(c.out)
	}

	if conf.Workers > 0 && conf.Workers != pool.Size {
		pool = parallel.Start(conf.Workers)
	}
	logger.Info("starting", "workers", pool.Size, "catalog", conf.Catalog, "colors", conf.Colors)

	var store *catalog.Store
	if conf.Catalog != "" {
		var err error
		if store, err = catalog.Open(conf.Catalog); err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("could not close color catalog", "path", conf.Catalog, "error", err)
			}
		}()
	}

	q := quantize.New(pool, quantize.Options{
		MaxIterations: conf.MaxIterations,
		Epsilon:       conf.Epsilon,
		Logger:        logger,
	})
	srv, err := New(conf, q, store, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx); err != nil {
		// handlers may still be queueing work, so the pool stays open
		return err
	}
	pool.Wait(true)
	return nil
}

// shutdownGrace is how long Shutdown waits for in-flight requests. It is at
// least the request timeout, so every quantization can end on its own.
func (s *Server) shutdownGrace() time.Duration {
	return max(shutdownTimeout, s.timeout+time.Second)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests. It returns nil only when every request has finished.
func (s *Server) ListenAndServe(ctx context.Context) error {
	hs := &http.Server{
		Addr:              s.conf.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.conf.Listen)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	grace := s.shutdownGrace()
	s.logger.Info("shutting down", "grace", grace)
	shutCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := hs.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("%w: %w", errShutdown, err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
