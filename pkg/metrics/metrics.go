package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "photodrop"

// Metrics groups the prometheus collectors shared by the upload and inbox paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TokensIssued     prometheus.Counter
	Uploads          *prometheus.CounterVec
	ArtifactsCreated *prometheus.CounterVec
	ArtifactsExpired prometheus.Counter
	ArtifactsDeleted *prometheus.CounterVec
	CleanupFailures  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "One-time upload tokens issued.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by result.",
		}, []string{"result"}),
		ArtifactsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_created_total",
			Help:      "Artifacts persisted by shape.",
		}, []string{"shape"}),
		ArtifactsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_expired_total",
			Help:      "Artifacts removed by the retention sweeper.",
		}),
		ArtifactsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_deleted_total",
			Help:      "Artifacts removed by operator action.",
		}, []string{"reason"}),
		CleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Best-effort deletions that failed and were swallowed.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.TokensIssued, m.Uploads, m.ArtifactsCreated, m.ArtifactsExpired, m.ArtifactsDeleted, m.CleanupFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterLiveTokens exposes the live token count as a gauge sampled on scrape.
func (m *Metrics) RegisterLiveTokens(reg prometheus.Registerer, count func() int) error {
	if m == nil || count == nil {
		return nil
	}
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_tokens",
		Help:      "Issued upload tokens not yet consumed or expired.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) ArtifactCreated(shape string) {
	if m == nil {
		return
	}
	m.ArtifactsCreated.WithLabelValues(shape).Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ArtifactsExpired.Add(float64(n))
}

func (m *Metrics) Deleted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ArtifactsDeleted.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.CleanupFailures.Inc()
}
