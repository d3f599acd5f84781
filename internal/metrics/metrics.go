// Package metrics exposes Prometheus counters and gauges for the
// reconciliation engine. A no-op recorder backs deployments that disable
// the listener.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thenervelab/miner-ipfs-service/internal/logging"
)

const namespace = "miner_ipfs"

// Recorder receives engine events.
type Recorder interface {
	CycleCompleted(duration time.Duration)
	PinAttempt(success bool)
	UnpinAttempt(success bool)
	UnpinnableRecorded()
	GCCompleted(removed int)
	SetRecordCounts(pending, pinned, failed, unpinRequested int)
	SetProfileActive(active bool)
	PeerConnectAttempt(success bool)
}

// PrometheusRecorder implements Recorder on a dedicated registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	pinAttempts   *prometheus.CounterVec
	unpinAttempts *prometheus.CounterVec
	unpinnables   prometheus.Counter
	gcRuns        prometheus.Counter
	gcRemoved     prometheus.Counter
	records       *prometheus.GaugeVec
	profileActive prometheus.Gauge
	peerConnects  *prometheus.CounterVec
}

// NewPrometheus builds a recorder with all collectors registered.
func NewPrometheus() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusRecorder{
		registry: registry,
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed reconciliation cycles.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a reconciliation cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		pinAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_attempts_total",
			Help:      "Pin attempts against the storage daemon.",
		}, []string{"result"}),
		unpinAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpin_attempts_total",
			Help:      "Unpin attempts against the storage daemon.",
		}, []string{"result"}),
		unpinnables: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpinnable_total",
			Help:      "CIDs demoted to unpinnable after exhausting retries.",
		}),
		gcRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_runs_total",
			Help:      "Storage daemon garbage collection runs.",
		}),
		gcRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_objects_removed_total",
			Help:      "Objects removed by garbage collection.",
		}),
		records: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pin_records",
			Help:      "Managed pin records by status.",
		}, []string{"status"}),
		profileActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profile_active",
			Help:      "Whether an on-chain profile is currently active (0 or 1).",
		}),
		peerConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connect_attempts_total",
			Help:      "Swarm connect attempts to registered peers.",
		}, []string{"result"}),
	}
}

func (r *PrometheusRecorder) CycleCompleted(duration time.Duration) {
	r.cycles.Inc()
	r.cycleDuration.Observe(duration.Seconds())
}

func (r *PrometheusRecorder) PinAttempt(success bool) {
	r.pinAttempts.WithLabelValues(resultLabel(success)).Inc()
}

func (r *PrometheusRecorder) UnpinAttempt(success bool) {
	r.unpinAttempts.WithLabelValues(resultLabel(success)).Inc()
}

func (r *PrometheusRecorder) UnpinnableRecorded() {
	r.unpinnables.Inc()
}

func (r *PrometheusRecorder) GCCompleted(removed int) {
	r.gcRuns.Inc()
	r.gcRemoved.Add(float64(removed))
}

func (r *PrometheusRecorder) SetRecordCounts(pending, pinned, failed, unpinRequested int) {
	r.records.WithLabelValues("pending_pin").Set(float64(pending))
	r.records.WithLabelValues("pinned").Set(float64(pinned))
	r.records.WithLabelValues("failed_pin").Set(float64(failed))
	r.records.WithLabelValues("unpin_requested").Set(float64(unpinRequested))
}

func (r *PrometheusRecorder) SetProfileActive(active bool) {
	if active {
		r.profileActive.Set(1)
		return
	}
	r.profileActive.Set(0)
}

func (r *PrometheusRecorder) PeerConnectAttempt(success bool) {
	r.peerConnects.WithLabelValues(resultLabel(success)).Inc()
}

// Serve runs an HTTP listener exposing /metrics until ctx is canceled.
func (r *PrometheusRecorder) Serve(ctx context.Context, bind string, logger *slog.Logger) error {
	log := logging.NewComponentLogger(logger, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: bind, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listener started", logging.String("bind", bind))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Nop discards all events.
type Nop struct{}

func (Nop) CycleCompleted(time.Duration)     {}
func (Nop) PinAttempt(bool)                  {}
func (Nop) UnpinAttempt(bool)                {}
func (Nop) UnpinnableRecorded()              {}
func (Nop) GCCompleted(int)                  {}
func (Nop) SetRecordCounts(int, int, int, int) {}
func (Nop) SetProfileActive(bool)            {}
func (Nop) PeerConnectAttempt(bool)          {}
