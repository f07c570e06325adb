package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tacoreio/tacore/pkg/core"
	obsprom "github.com/tacoreio/tacore/pkg/observability/prometheus"
)

// Config configures the monitoring HTTP server.
type Config struct {
	// Addr is the HTTP bind address.
	Addr string

	// PushInterval is the period of websocket stats pushes.
	PushInterval time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(addr string) Config {
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		Addr:         addr,
		PushInterval: time.Second,
	}
}

// Server serves /status, /workers, /metrics, and a /ws live-stats stream.
type Server struct {
	cfg      Config
	facade   *Facade
	logger   core.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a monitoring server over the given facade (fail-fast
// on nil).
func NewServer(cfg Config, facade *Facade) *Server {
	if facade == nil {
		panic("monitor facade cannot be nil")
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = time.Second
	}

	s := &Server{
		cfg:    cfg,
		facade: facade,
		logger: core.NewComponentLogger("monitor"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/workers", s.handleWorkers)
	mux.Handle("/metrics", promhttp.HandlerFor(obsprom.DefaultRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// Start serves HTTP (blocking, like HTTP servers).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	err = s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// ListeningAddr returns the actual listening address (useful when Addr is
// ":0"). Empty when not listening.
func (s *Server) ListeningAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusPayload struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Stats         any     `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, statusPayload{
		Status:        "ok",
		UptimeSeconds: s.facade.Uptime().Seconds(),
		Stats:         s.facade.Stats(),
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"workers": s.facade.ListWorkers(),
	})
}

type wsStatsFrame struct {
	Workers any     `json:"workers"`
	Stats   any     `json:"stats"`
	Uptime  float64 `json:"uptime_seconds"`
}

// handleWS upgrades and pushes the stats snapshot on every tick until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reader only to detect close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for range ticker.C {
		frame := wsStatsFrame{
			Workers: s.facade.ListWorkers(),
			Stats:   s.facade.Stats(),
			Uptime:  s.facade.Uptime().Seconds(),
		}
		data, err := core.JSONEncode(frame)
		if err != nil {
			s.logger.Errorf("encode ws frame: %v", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := core.JSONEncode(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
