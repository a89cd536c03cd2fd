// Package metrics exports the policy decisions of a mount as Prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"extendfs/internal/extend"
)

// Metrics is the Prometheus implementation of extend.Observer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	timeUpdates      *prometheus.CounterVec
	writebackBefore  prometheus.Histogram
	writebackAfter   prometheus.Histogram
	throttledPasses  prometheus.Counter
	configWrites     *prometheus.CounterVec
	remounts         *prometheus.CounterVec
	pagesWrittenBack prometheus.Counter
}

var _ extend.Observer = (*Metrics)(nil)

// pageBuckets covers quotas from one minimal chunk up to 1 GiB of pages.
var pageBuckets = prometheus.ExponentialBuckets(extend.MinWritebackPages, 2, 9)

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		timeUpdates: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "extendfs_time_updates_total",
				Help: "Timestamp updates by requested kinds and outcome",
			},
			[]string{"kinds", "outcome"}, // outcome: "committed", "skipped"
		),
		writebackBefore: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extendfs_writeback_quota_requested_pages",
				Help:    "Writeback pass quota before the per-file throttle",
				Buckets: pageBuckets,
			},
		),
		writebackAfter: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extendfs_writeback_quota_granted_pages",
				Help:    "Writeback pass quota after the per-file throttle",
				Buckets: pageBuckets,
			},
		),
		throttledPasses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "extendfs_writeback_throttled_passes_total",
				Help: "Writeback passes whose quota was reduced by user.wbnice",
			},
		),
		configWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "extendfs_config_writes_total",
				Help: "Writes to live configuration attributes by outcome",
			},
			[]string{"attribute", "outcome"}, // outcome: "ok", "invalid"
		),
		remounts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "extendfs_remounts_total",
				Help: "Option reloads applied to a live mount by outcome",
			},
			[]string{"outcome"},
		),
		pagesWrittenBack: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "extendfs_writeback_pages_total",
				Help: "Dirty pages written back to the source directory",
			},
		),
	}
}

// ObserveTimeUpdate records one timestamp policy decision.
func (m *Metrics) ObserveTimeUpdate(kinds extend.TimeKind, committed bool) {
	if m == nil {
		return
	}
	outcome := "skipped"
	if committed {
		outcome = "committed"
	}
	m.timeUpdates.WithLabelValues(kinds.String(), outcome).Inc()
}

// ObserveWriteback records a quota change made by the writeback throttle.
func (m *Metrics) ObserveWriteback(_ string, before, after int64) {
	if m == nil {
		return
	}
	m.writebackBefore.Observe(float64(before))
	m.writebackAfter.Observe(float64(after))
	if after < before {
		m.throttledPasses.Inc()
	}
}

// ObserveStore records a write to a live configuration attribute.
func (m *Metrics) ObserveStore(attr string, err error) {
	if m == nil {
		return
	}
	m.configWrites.WithLabelValues(attr, outcome(err, "invalid")).Inc()
}

// ObserveRemount records an option reload.
func (m *Metrics) ObserveRemount(err error) {
	if m == nil {
		return
	}
	m.remounts.WithLabelValues(outcome(err, "error")).Inc()
}

// ObservePagesWritten records pages flushed to the source directory.
func (m *Metrics) ObservePagesWritten(pages int) {
	if m == nil || pages <= 0 {
		return
	}
	m.pagesWrittenBack.Add(float64(pages))
}

func outcome(err error, failed string) string {
	if err != nil {
		return failed
	}
	return "ok"
}
