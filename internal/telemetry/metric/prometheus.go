package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "constellation"

// Registry holds all application metrics.
//
// Every method is safe on a nil *Registry, so components can take an
// optional registry without guarding each call.
type Registry struct {
	registry *prometheus.Registry

	// Membership metrics
	Members      prometheus.Gauge
	IsLeader     prometheus.Gauge
	AppliedIndex prometheus.Gauge
	Epoch        prometheus.Gauge

	// Consensus metrics
	LeaderChanges   prometheus.Counter
	Proposals       *prometheus.CounterVec
	ProposeDuration prometheus.Histogram
	Evictions       prometheus.Counter

	// Mesh metrics
	Negotiations  *prometheus.CounterVec
	Calls         *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	ChannelErrors *prometheus.CounterVec
	Relays        *prometheus.CounterVec
	Admissions    *prometheus.CounterVec

	// Admin API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with the Go and process collectors and
// every Constellation metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,

		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Number of entries in the local address book snapshot",
		}),
		IsLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "is_leader",
			Help:      "1 when this node is the transponder",
		}),
		AppliedIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "applied_index",
			Help:      "Last consensus log index folded into the address book",
		}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Current leadership epoch in the address book",
		}),
		LeaderChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leader_changes_total",
			Help:      "Number of observed leadership changes",
		}),
		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Membership event proposals by result",
		}, []string{"result"}),
		ProposeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "propose_duration_seconds",
			Help:      "Time from proposal to commit",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_evictions_total",
			Help:      "Members evicted after the liveness timeout",
		}),
		Negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Transport negotiations by outcome",
		}, []string{"outcome"}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Outbound calls by path and result",
		}, []string{"path", "result"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Outbound call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		ChannelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_errors_total",
			Help:      "Framed channel errors by error code",
		}, []string{"code"}),
		Relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Consensus stream relays by result",
		}, []string{"result"}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Join admission decisions by result",
		}, []string{"result"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Admin API requests",
		}, []string{"procedure", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Admin API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
	}

	reg.MustRegister(
		r.Members, r.IsLeader, r.AppliedIndex, r.Epoch,
		r.LeaderChanges, r.Proposals, r.ProposeDuration, r.Evictions,
		r.Negotiations, r.Calls, r.CallDuration, r.ChannelErrors, r.Relays, r.Admissions,
		r.RequestsTotal, r.RequestDuration,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler for /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Prometheus exposes the underlying registry for extra collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetMembers records the address book size.
func (r *Registry) SetMembers(n int) {
	if r != nil {
		r.Members.Set(float64(n))
	}
}

// SetLeader records whether this node leads.
func (r *Registry) SetLeader(leader bool) {
	if r != nil {
		r.IsLeader.Set(boolGauge(leader))
	}
}

// SetApplied records the applied index and epoch.
func (r *Registry) SetApplied(index, epoch uint64) {
	if r != nil {
		r.AppliedIndex.Set(float64(index))
		r.Epoch.Set(float64(epoch))
	}
}

// IncLeaderChanges counts a leadership change.
func (r *Registry) IncLeaderChanges() {
	if r != nil {
		r.LeaderChanges.Inc()
	}
}

// RecordProposal counts a proposal outcome and, for commits, its latency.
func (r *Registry) RecordProposal(result string, seconds float64) {
	if r == nil {
		return
	}
	r.Proposals.WithLabelValues(result).Inc()
	if result == "committed" {
		r.ProposeDuration.Observe(seconds)
	}
}

// IncEvictions counts a liveness eviction.
func (r *Registry) IncEvictions() {
	if r != nil {
		r.Evictions.Inc()
	}
}

// RecordNegotiation counts a negotiation outcome.
func (r *Registry) RecordNegotiation(outcome string) {
	if r != nil {
		r.Negotiations.WithLabelValues(outcome).Inc()
	}
}

// RecordCall counts an outbound call and observes its latency.
func (r *Registry) RecordCall(path, result string, seconds float64) {
	if r == nil {
		return
	}
	r.Calls.WithLabelValues(path, result).Inc()
	r.CallDuration.WithLabelValues(path).Observe(seconds)
}

// RecordChannelError counts a channel error by code.
func (r *Registry) RecordChannelError(code string) {
	if r != nil {
		r.ChannelErrors.WithLabelValues(code).Inc()
	}
}

// RecordRelay counts a relay attempt.
func (r *Registry) RecordRelay(result string) {
	if r != nil {
		r.Relays.WithLabelValues(result).Inc()
	}
}

// RecordAdmission counts an admission decision.
func (r *Registry) RecordAdmission(result string) {
	if r != nil {
		r.Admissions.WithLabelValues(result).Inc()
	}
}

// RecordRequest counts an admin API request.
func (r *Registry) RecordRequest(procedure, code string, seconds float64) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(procedure, code).Inc()
	r.RequestDuration.WithLabelValues(procedure).Observe(seconds)
}
