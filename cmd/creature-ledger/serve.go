package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"creatureledger/internal/adapters/ledgerapi"
	"creatureledger/internal/config"
	"creatureledger/internal/core"
)

const shutdownTimeout = 10 * time.Second

func authenticator(cfg config.Config) (ledgerapi.Authenticator, error) {
	if cfg.JWTPublicKey == "" {
		return ledgerapi.HeaderAuthenticator{}, nil
	}
	return ledgerapi.NewJWTAuthenticator(cfg.JWTIssuer, cfg.JWTPublicKey)
}

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// newServerMux mounts the ledger API next to the operational endpoints.
// /healthz pings the store when it has a connection to check.
func newServerMux(l *ledger, auth ledgerapi.Authenticator, reg *prometheus.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", ledgerapi.NewHandler(l.svc, auth, logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if p, ok := l.store.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("store unavailable\n"))
				return
			}
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serve runs the HTTP API until ctx is cancelled. ready, when set, receives
// the bound address.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, ready func(addr string)) (err error) {
	auth, err := authenticator(cfg)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	metrics := core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder("")}

	l, err := openLedger(ctx, cfg, logger, core.WithMetricsRecorder(metrics))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := l.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	server := &http.Server{
		Handler:           newServerMux(l, auth, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("creature ledger listening", "addr", listener.Addr().String(), "storage", cfg.StorageDriver, "journal", cfg.BlobDriver)
	if ready != nil {
		ready(listener.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("creature ledger stopped")
	return nil
}
