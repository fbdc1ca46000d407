package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "choreboard"

// Invites holds the invite code lifecycle counters.
type Invites struct {
	Created     prometheus.Counter
	Validations *prometheus.CounterVec
	Redemptions *prometheus.CounterVec
	Purged      prometheus.Counter
}

func newInvites() *Invites {
	return &Invites{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_codes_created_total",
			Help:      "Invite codes issued.",
		}),
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_validations_total",
			Help:      "Invite code validations by result.",
		}, []string{"result"}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_redemptions_total",
			Help:      "Invite code redemptions by result.",
		}, []string{"result"}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invite_codes_purged_total",
			Help:      "Expired invite codes removed by cleanup.",
		}),
	}
}

// NewInvites returns unregistered invite counters, for tests and callers that
// do not expose /metrics.
func NewInvites() *Invites {
	return newInvites()
}

// Registry bundles the process collectors with the application metrics.
type Registry struct {
	reg     *prometheus.Registry
	Invites *Invites
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	inv := newInvites()
	reg.MustRegister(inv.Created, inv.Validations, inv.Redemptions, inv.Purged)

	return &Registry{reg: reg, Invites: inv}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
