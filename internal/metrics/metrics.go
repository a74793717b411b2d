// Package metrics exposes Prometheus collectors for outbound requests, push
// frames and command batches.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "myecho"

// Registry holds every collector of this package plus the process and Go
// runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Outbound HTTP exchanges by method and status code",
	}, []string{"method", "code"})

	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "retries_total",
		Help:      "Retried exchanges by failure class",
	}, []string{"reason"})

	Frames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "frames_total",
		Help:      "Inbound push datagrams by outcome",
	}, []string{"result"})

	BatchNodes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sequence",
		Name:      "batch_nodes",
		Help:      "Number of command nodes per flushed instruction tree",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})

	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "login",
		Name:      "steps_total",
		Help:      "Authentication steps by resulting state",
	}, []string{"state"})
)

func init() {
	Registry.MustRegister(
		Requests,
		Retries,
		Frames,
		BatchNodes,
		LoginAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	log := logr.FromContextOrDiscard(ctx).WithName("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
