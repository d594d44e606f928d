package concat

import "github.com/prometheus/client_golang/prometheus"

// Metrics 可为 nil（各方法判空）
type Metrics struct {
	opened          prometheus.Counter
	appended        prometheus.Counter
	finalized       *prometheus.CounterVec
	discarded       prometheus.Counter
	persistFailed   prometheus.Counter
	sweepErrors     prometheus.Counter
	expiredBefore   prometheus.Counter
	corruptEvicted  prometheus.Counter
	sweepCandidates prometheus.Gauge
}

// NewMetrics 注册到 reg；reg 为 nil 时用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "blocks_opened_total", Help: "Blocks opened.",
		}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "messages_appended_total", Help: "Messages appended to blocks.",
		}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concat", Name: "blocks_finalized_total", Help: "Blocks persisted as one message, by reason.",
		}, []string{"reason"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "blocks_discarded_total", Help: "Single-message blocks dropped at finalize.",
		}),
		persistFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "persist_failures_total", Help: "Durable writes that failed; block kept for retry.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "sweep_errors_total", Help: "Per-block errors during idle sweep.",
		}),
		expiredBefore: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "expired_before_sweep_total", Help: "Index entries whose block expired before the sweeper reached it.",
		}),
		corruptEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concat", Name: "corrupt_blocks_evicted_total", Help: "Undecodable blocks removed from the store.",
		}),
		sweepCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "concat", Name: "sweep_candidates", Help: "Idle candidates found by the last sweep.",
		}),
	}
	reg.MustRegister(m.opened, m.appended, m.finalized, m.discarded,
		m.persistFailed, m.sweepErrors, m.expiredBefore, m.corruptEvicted, m.sweepCandidates)
	return m
}

func (m *Metrics) incOpened() {
	if m != nil {
		m.opened.Inc()
	}
}

func (m *Metrics) incAppended() {
	if m != nil {
		m.appended.Inc()
	}
}

func (m *Metrics) incFinalized(r Reason) {
	if m != nil {
		m.finalized.WithLabelValues(string(r)).Inc()
	}
}

func (m *Metrics) incDiscarded() {
	if m != nil {
		m.discarded.Inc()
	}
}

func (m *Metrics) incPersistFailed() {
	if m != nil {
		m.persistFailed.Inc()
	}
}

func (m *Metrics) incSweepError() {
	if m != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) incExpiredBeforeSweep() {
	if m != nil {
		m.expiredBefore.Inc()
	}
}

func (m *Metrics) incCorruptEvicted() {
	if m != nil {
		m.corruptEvicted.Inc()
	}
}

func (m *Metrics) setSweepCandidates(n int) {
	if m != nil {
		m.sweepCandidates.Set(float64(n))
	}
}
