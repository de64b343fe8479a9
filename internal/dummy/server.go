package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type ServerConfig struct {
	Port int

	// Share of /error requests answered with 500.
	ErrorRate float64

	// Latency of /test/baseline.
	BaselineLatency time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.ErrorRate <= 0 {
		c.ErrorRate = 0.05
	}
	if c.BaselineLatency <= 0 {
		c.BaselineLatency = 100 * time.Millisecond
	}
	return c
}

// Handler serves the dummy endpoints. It is what Start listens with and what
// tests mount on httptest servers.
func Handler(cfg ServerConfig) http.Handler {
	cfg = cfg.withDefaults()
	mux := http.NewServeMux()

	// 1. Fast Endpoint (10-50ms)
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(40)+10) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Fast response"))
	})

	// 2. Medium Endpoint (100-300ms)
	mux.HandleFunc("/medium", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(200)+100) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Medium response"))
	})

	// 3. Slow Endpoint (1s-2s) - Good for testing timeouts and p95 gates
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		jitter := time.Duration(rand.Intn(1000)+1000) * time.Millisecond
		time.Sleep(jitter)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Slow response"))
	})

	// 4. Baseline work unit with a fixed cost, JSON body for json checks
	host, _ := os.Hostname()
	mux.HandleFunc("/test/baseline", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		time.Sleep(cfg.BaselineLatency)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"service":    host,
			"latency_ms": float64(time.Since(start).Microseconds()) / 1000,
		})
	})

	// 5. Error Endpoint (random 500s at ErrorRate)
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float64() < cfg.ErrorRate {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 Internal Server Error"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	// 6. Everything else answers 200 straight away
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Hello, vugate!"))
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Start listens on cfg.Port until ctx is done.
func Start(ctx context.Context, cfg ServerConfig, log *logrus.Entry) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.WithField("addr", addr).Info("dummy server running, endpoints: /fast /medium /slow /test/baseline /error /health")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
