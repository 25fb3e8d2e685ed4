package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phanxgames/arbor"
)

// metrics records per-tick propagation statistics on a private registry.
type metrics struct {
	reg        *prometheus.Registry
	tick       prometheus.Histogram
	recomputed prometheus.Counter
	scanned    prometheus.Counter
	nodes      prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbor",
			Name:      "tick_seconds",
			Help:      "Wall time of one update and propagate step across all groups.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		recomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "recomputed_total",
			Help:      "Global transforms recomputed by propagate.",
		}),
		scanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "scanned_total",
			Help:      "Slots examined inside dirty spans.",
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbor",
			Name:      "nodes",
			Help:      "Nodes in the scene.",
		}),
	}
	m.reg.MustRegister(m.tick, m.recomputed, m.scanned, m.nodes)
	return m
}

func (m *metrics) observe(st arbor.TickStats) {
	m.tick.Observe(st.Duration.Seconds())
	m.recomputed.Add(float64(st.Propagate.Recomputed))
	m.scanned.Add(float64(st.Propagate.Scanned))
}

// serve exposes the registry on addr under /metrics until ctx is done.
// It returns the bound address, which differs from addr when the port is 0.
func (m *metrics) serve(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerFromContext(ctx).Error("metrics server", "err", err)
		}
	}()
	return ln.Addr().String(), nil
}
