// Package server runs the optional diagnostics HTTP endpoint: Prometheus
// metrics, liveness, a JSON status view, and pprof on request.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	rtsup "taskgate/internal/runtime/supervisor"
	logx "taskgate/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9464"

// Config controls the diagnostics server. A non-loopback Addr needs Token
// or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StatusFunc returns a JSON-encodable view of the daemon.
type StatusFunc func() any

type Service struct {
	mu  sync.Mutex
	cfg Config
	cur *instance // nil while stopped

	log      logx.Logger
	gatherer prometheus.Gatherer
	status   StatusFunc
}

// instance is one Start..Stop cycle. ln and srv change on every restart.
type instance struct {
	sup     *rtsup.Supervisor
	ln      net.Listener
	srv     *http.Server
	stopped chan struct{} // set by Stop, closed once the serve loop exited
}

func New(cfg Config, log logx.Logger, gatherer prometheus.Gatherer, status StatusFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, gatherer: gatherer, status: status}
}

// Running reports whether a serve loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Addr returns the bound address while serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.ln == nil {
		return ""
	}
	return s.cur.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or restarting the server as
// needed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev, running := s.cfg, s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled && running:
		s.Stop(ctx)
	case !cfg.Enabled:
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the serve loop. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.cur != nil {
		stopped := s.cur.stopped
		if stopped == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-stopped:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	in := &instance{sup: rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "http"))),
		// Diagnostics are optional and never take the daemon down.
		rtsup.WithCancelOnError(false),
	)}
	s.cur = in
	s.mu.Unlock()

	in.sup.GoRestart("http.serve", func(ctx context.Context) error { return s.serve(ctx, in) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down gracefully within ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	in := s.cur
	if in == nil {
		s.mu.Unlock()
		return
	}
	stopped := in.stopped
	if stopped == nil {
		stopped = make(chan struct{})
		in.stopped = stopped
		srv := in.srv
		go func() {
			if srv != nil {
				_ = srv.Shutdown(ctx)
			}
			in.sup.Cancel()
			_ = in.sup.Wait(context.Background())
			s.mu.Lock()
			if s.cur == in {
				s.cur = nil
			}
			s.mu.Unlock()
			s.log.Info("diagnostics server stopped")
			close(stopped)
		}()
	}
	s.mu.Unlock()

	select {
	case <-stopped:
	case <-ctx.Done():
		in.sup.Cancel()
	}
}

// serve binds and serves until ctx ends. An unexpected exit is an error so
// the supervisor restarts it.
func (s *Service) serve(ctx context.Context, in *instance) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if err := checkExposure(cfg, addr); err != nil {
		s.log.Error("diagnostics server refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}
	if cfg.AllowInsecure && cfg.Token == "" && !isLoopback(addr) {
		s.log.Warn("diagnostics server has no token on a non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer func() {
		_ = srv.Close()
		_ = ln.Close()
		s.mu.Lock()
		if in.srv == srv {
			in.ln, in.srv = nil, nil
		}
		s.mu.Unlock()
	}()

	s.mu.Lock()
	in.ln, in.srv = ln, srv
	s.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() {
		// Bounded here; Stop owns the graceful path.
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stopWatch()

	bound := ln.Addr().String()
	s.log.Info("diagnostics server started",
		logx.String("addr", bound),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
		logx.String("hint", fmt.Sprintf("http://%s/metrics", bound)),
	)

	err = srv.Serve(ln)
	if ctx.Err() != nil || s.stopping(in) {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("diagnostics server exited unexpectedly")
	}
	return err
}

func (s *Service) stopping(in *instance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return in.stopped != nil
}
