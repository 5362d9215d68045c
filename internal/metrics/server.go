package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"optionflow/logger"
)

// Server exposes /metrics and /healthz on a dedicated listener.
type Server struct {
	addr string
	srv  *http.Server
	log  *logger.Entry

	mu      sync.Mutex
	running bool
}

func NewServer(addr string, m *Metrics, log *logger.Log) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
		log:  log.WithComponent("metrics"),
	}
}

// Start binds the listener and serves in the background. A bind failure is
// returned synchronously so boot can abort.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.running = true

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server stopped")
		}
	}()

	s.log.WithFields(logger.Fields{"addr": s.addr}).Info("metrics server listening")
	return nil
}

// Stop shuts the listener down, waiting briefly for in-flight scrapes.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("metrics server shutdown")
	}
}
