package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Loop is a scheduler-like component driven for the server's lifetime.
type Loop interface {
	Run(ctx context.Context) error
}

type LoopFunc func(ctx context.Context) error

func (f LoopFunc) Run(ctx context.Context) error { return f(ctx) }

// Lifecycle hooks run during shutdown, in this order: Pause stops new
// automatic turns, CloseSinks ends live channels so Shutdown can drain, Drain
// waits for in-flight follow-ups.
type Lifecycle struct {
	Pause      func()
	CloseSinks func()
	Drain      func()
}

type ServerConfig struct {
	Addr            string
	Handler         http.Handler
	Loops           []Loop
	Lifecycle       Lifecycle
	Pool            *ConnectionPool
	ShutdownTimeout time.Duration
}

// Server runs the HTTP listener alongside the scheduler loop and any
// background sinks until the context ends or SIGINT/SIGTERM arrives.
type Server struct {
	httpSrv         *http.Server
	loops           []Loop
	lifecycle       Lifecycle
	pool            *ConnectionPool
	shutdownTimeout time.Duration
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("server handler is nil")
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		httpSrv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		loops:           cfg.Loops,
		lifecycle:       cfg.Lifecycle,
		pool:            cfg.Pool,
		shutdownTimeout: timeout,
	}, nil
}

func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	eg, egCtx := errgroup.WithContext(ctx)
	srvCtx, srvCancel := context.WithCancel(egCtx)
	defer srvCancel()

	for _, loop := range s.loops {
		eg.Go(func() error { return loop.Run(srvCtx) })
	}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		return s.shutdown(context.WithoutCancel(ctx))
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting duet server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) shutdown(base context.Context) error {
	if s.lifecycle.Pause != nil {
		s.lifecycle.Pause()
	}
	if s.lifecycle.CloseSinks != nil {
		s.lifecycle.CloseSinks()
	}
	s.pool.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(base, s.shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		return errors.Wrap(err, "shutdown http server")
	}
	if s.lifecycle.Drain != nil {
		s.lifecycle.Drain()
	}
	log.Info().Msg("server shutdown complete")
	return nil
}
