package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/zeusync/zecs/internal/core/observability/log"
)

// HTTPServer exposes read-only views of a running Server: /stats, /chat and
// /healthz.
type HTTPServer struct {
	addr     string
	server   *http.Server
	listener net.Listener
	source   *Server
	logger   log.Log
}

func NewHTTPServer(addr string, source *Server, logger log.Log) *HTTPServer {
	s := &HTTPServer{
		addr:   addr,
		source: source,
		logger: log.OrNop(logger).With(log.String("component", "http")),
	}
	s.server = &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Addr is the bound address once started.
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", log.Error(err))
		}
	}()
	s.logger.Info("HTTP server started", log.String("addr", ln.Addr().String()))
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/stats":
		s.writeJSON(w, s.source.GetStats())
	case "/chat":
		s.writeJSON(w, s.source.Chat().Get())
	case "/healthz":
		if !s.source.IsRunning() {
			http.Error(w, ErrServerNotRunning.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", log.Error(err))
	}
}
