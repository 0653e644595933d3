// Package health serves the JSON liveness document monitors poll.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"heatbot/internal/heat"
)

// SessionReporter exposes the session state without granting access to it.
type SessionReporter interface {
	Status() heat.SessionStatus
}

type SessionInfo struct {
	Valid      bool    `json:"valid"`
	AgeSeconds float64 `json:"age_seconds"`
}

// Status is the health document.
type Status struct {
	Status        string      `json:"status"`
	Bot           string      `json:"bot"`
	Timestamp     time.Time   `json:"timestamp"`
	Environment   string      `json:"environment"`
	Version       string      `json:"version"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	PID           int         `json:"pid"`
	RSSBytes      uint64      `json:"rss_bytes"`
	Goroutines    int         `json:"goroutines"`
	Session       SessionInfo `json:"session"`
}

type Options struct {
	Port        int
	Bot         string
	Environment string
	Version     string
	Sessions    SessionReporter
	Now         func() time.Time
	Logger      *zap.Logger
}

type Server struct {
	opts    Options
	started time.Time
	proc    *process.Process
	srv     *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{opts: opts, started: opts.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	} else {
		opts.Logger.Warn("process stats unavailable", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handle)
	mux.HandleFunc("GET /healthz", s.handle)
	s.srv = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(opts.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Snapshot builds the current document.
func (s *Server) Snapshot(ctx context.Context) Status {
	now := s.opts.Now()
	st := Status{
		Status:        "active",
		Bot:           s.opts.Bot,
		Timestamp:     now.UTC(),
		Environment:   s.opts.Environment,
		Version:       s.opts.Version,
		UptimeSeconds: now.Sub(s.started).Seconds(),
		PID:           os.Getpid(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			st.RSSBytes = mem.RSS
		}
	}
	if s.opts.Sessions != nil {
		ss := s.opts.Sessions.Status()
		st.Session = SessionInfo{Valid: ss.Valid, AgeSeconds: ss.Age.Seconds()}
	}
	return st
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot(r.Context())); err != nil {
		s.opts.Logger.Warn("writing health response", zap.Error(err))
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("health endpoint listening", zap.String("addr", ln.Addr().String()))
		errc <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	<-errc
	return err
}
