package metrics

import (
	"context"
	"net/http"
	"time"

	"kistrader/internal/domain"
	"kistrader/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publisher exposes the engine's per-tick snapshot as Prometheus metrics.
// Implements ports.SnapshotSink; it only ever reads the snapshot value.
type Publisher struct {
	logger ports.Logger

	positions       *prometheus.GaugeVec
	unrealizedPnL   prometheus.Gauge
	admitted        prometheus.Gauge
	filled          prometheus.Gauge
	cancelled       prometheus.Gauge
	closedByReason  *prometheus.GaugeVec
	ordersSubmitted prometheus.Gauge
	lastTick        prometheus.Gauge
}

// NewPublisher registers the engine metrics on a fresh registry and returns
// the publisher together with an HTTP handler serving it.
func NewPublisher(logger ports.Logger) (*Publisher, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	p := &Publisher{
		logger: logger,
		positions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kistrader_positions",
			Help: "Number of tracked positions by lifecycle status.",
		}, []string{"status"}),
		unrealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kistrader_unrealized_pnl",
			Help: "Total unrealized P&L across non-terminal positions.",
		}),
		admitted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kistrader_admitted_total",
			Help: "Candidates admitted since process start.",
		}),
		filled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kistrader_fills_confirmed_total",
			Help: "Pending positions confirmed filled since process start.",
		}),
		cancelled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kistrader_cancelled_total",
			Help: "Pending positions cancelled since process start.",
		}),
		closedByReason: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kistrader_closed_total",
			Help: "Positions closed since process start, by exit reason.",
		}, []string{"reason"}),
		ordersSubmitted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kistrader_orders_submitted_total",
			Help: "Orders submitted to the broker since process start.",
		}),
		lastTick: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kistrader_last_tick_timestamp_seconds",
			Help: "Unix time of the engine's last published snapshot.",
		}),
	}
	return p, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Publish implements ports.SnapshotSink.
func (p *Publisher) Publish(snap domain.Snapshot) {
	counts := make(map[domain.PositionStatus]int)
	for _, pos := range snap.Positions {
		counts[pos.Status]++
	}
	p.positions.Reset()
	for status, n := range counts {
		p.positions.WithLabelValues(string(status)).Set(float64(n))
	}

	p.unrealizedPnL.Set(snap.TotalUnrealizedPnL)
	p.admitted.Set(float64(snap.Admitted))
	p.filled.Set(float64(snap.Filled))
	p.cancelled.Set(float64(snap.Cancelled))
	for reason, n := range snap.ClosedByReason {
		p.closedByReason.WithLabelValues(string(reason)).Set(float64(n))
	}
	p.ordersSubmitted.Set(float64(snap.OrdersSubmitted))
	p.lastTick.Set(float64(snap.Time.Unix()))
}

// Serve starts the metrics HTTP server in the background. Failures are
// logged, never fatal: telemetry must not take the engine down.
func Serve(addr string, handler http.Handler, logger ports.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(context.Background(), "Metrics server listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), err, "Metrics server stopped")
		}
	}()
}
