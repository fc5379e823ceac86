// Package httpapi exposes the thin ambient HTTP surface of the
// monitoring server: health checks and a read-only view of HA status,
// for operators and orchestration probes. It intentionally has no
// business API of its own - the rest of the monitoring server is out
// of scope (spec §1 Non-goals).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/sentramon/server/internal/config"
	"github.com/sentramon/server/internal/ha/controlchannel"
	"github.com/sentramon/server/internal/ha/report"
)

// Server is the ambient HTTP server.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	httpServer *http.Server
	cc         *controlchannel.Client
}

// New builds a Server that proxies HA status and node report requests
// to the control channel client.
func New(cfg config.ServerConfig, cc *controlchannel.Client, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, logger: logger.Named("httpapi"), cc: cc}

	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/ha/status", s.statusHandler)
	mux.HandleFunc("/ha/nodes", s.nodesHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		MaxAge:         86400,
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.loggingMiddleware(corsHandler.Handler(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks serving HTTP until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Address()))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/healthz" {
			return
		}
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, err := s.cc.Status(ctx, 3*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) nodesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entries, err := s.cc.ReportNodes(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	snapshot := report.BuildSnapshot(entries, time.Now())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}
