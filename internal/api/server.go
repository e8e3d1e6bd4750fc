// Package api exposes the optional status HTTP interface: health and
// Prometheus metrics plus a live snapshot of per-source statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/pipeline"
)

// StatsSource provides the current pipeline summary; the coordinator
// implements it.
type StatsSource interface {
	Summarize() pipeline.Summary
}

// Server hosts the status endpoints for one run.
type Server struct {
	addr   string
	stats  StatsSource
	logger *zap.Logger
	srv    *http.Server
}

// NewServer builds the router. stats may be nil; /stats then reports an
// empty summary.
func NewServer(addr string, stats StatsSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, stats: stats, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", s.statsHandler)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully. Always
// returns nil on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	s.logger.Info("status server listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	summary := pipeline.Summary{}
	if s.stats != nil {
		summary = s.stats.Summarize()
	}
	type row struct {
		Source  string `json:"source"`
		Scraped int    `json:"scraped"`
		Working int    `json:"working"`
	}
	rows := make([]row, 0, len(summary.Rows))
	for _, r := range summary.Rows {
		rows = append(rows, row{Source: r.SourceID, Scraped: r.Scraped, Working: r.Working})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sources":        rows,
		"unique_scraped": summary.UniqueScraped,
		"unique_working": summary.UniqueWorking,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write json failed", zap.Error(err))
	}
}
