package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zerohunger/zhchat/internal/config"
	"go.uber.org/zap"
)

// ActiveConversation reports the open conversation, if any. The
// conversation manager satisfies it through activeSource.
type ActiveConversation interface {
	Describe() (id string, connection string, ok bool)
}

// MetricsServer serves /metrics and /healthz on the configured address.
type MetricsServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewMetricsServer binds cfg.MetricsAddr. It returns nil when no address is
// configured.
func NewMetricsServer(p Params, cfg *config.Config, reg *prometheus.Registry, active ActiveConversation, logger *zap.Logger) (*MetricsServer, error) {
	if cfg.MetricsAddr == "" {
		return nil, nil
	}
	listener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	return &MetricsServer{
		srv: &http.Server{
			Handler:           metricsRouter(p.SessionName, reg, active),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

func metricsRouter(sessionName string, reg *prometheus.Registry, active ActiveConversation) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"status":  "ok",
			"session": sessionName,
		}
		if active != nil {
			if id, conn, ok := active.Describe(); ok {
				body["conversation"] = id
				body["connection"] = conn
			}
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}

// Addr returns the bound address.
func (m *MetricsServer) Addr() string {
	return m.listener.Addr().String()
}

// Start serves until Stop. It returns http.ErrServerClosed after Stop.
func (m *MetricsServer) Start() error {
	m.logger.Info("metrics server starting", zap.String("addr", m.Addr()))
	return m.srv.Serve(m.listener)
}

// Stop shuts the server down gracefully.
func (m *MetricsServer) Stop(ctx context.Context) error {
	m.logger.Info("metrics server stopping")
	return m.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
