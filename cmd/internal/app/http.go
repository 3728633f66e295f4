package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readiness is what /readyz consults.
type readiness struct {
	// sessionReady reports whether the gateway session is live and bootstrapped.
	sessionReady func() bool

	// pingDB is nil when the archive has no database. It applies its own timeout.
	pingDB func(ctx context.Context) error
}

func registerHTTP(mux *http.ServeMux, log Logger, gatherer prometheus.Gatherer, ready readiness) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready.sessionReady != nil && !ready.sessionReady() {
			http.Error(w, "session not ready", http.StatusServiceUnavailable)
			return
		}

		if ready.pingDB != nil {
			if err := ready.pingDB(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}
