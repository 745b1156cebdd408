package keys

import (
	"context"
	"sync"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolverPrometheusMetrics sync.Once

	resolverFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cybersource",
			Subsystem: "keys",
			Name:      "fetch_total",
			Help:      "Total number of public key lookups, by outcome.",
		},
		[]string{"name", "outcome"})

	resolverFetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cybersource",
			Subsystem: "keys",
			Name:      "fetch_duration_seconds",
			Help:      "Amount of time spent per public key lookup, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.0, 14),
		},
		[]string{"name"})
)

type metricsResolver struct {
	base Resolver

	duration prometheus.Observer
	name     string
}

// NewMetricsResolver is a decorator for Resolver that exposes the number
// and latency of key lookups through Prometheus.
func NewMetricsResolver(base Resolver, name string) Resolver {
	resolverPrometheusMetrics.Do(func() {
		prometheus.MustRegister(resolverFetchesTotal)
		prometheus.MustRegister(resolverFetchDurationSeconds)
	})

	return &metricsResolver{
		base: base,

		duration: resolverFetchDurationSeconds.WithLabelValues(name),
		name:     name,
	}
}

func (r *metricsResolver) FetchPublicKey(ctx context.Context, kid, host string, timeout time.Duration) (*PublicKey, error) {
	start := time.Now()
	key, err := r.base.FetchPublicKey(ctx, kid, host, timeout)
	r.duration.Observe(time.Since(start).Seconds())
	resolverFetchesTotal.WithLabelValues(r.name, FetchOutcome(err)).Inc()
	return key, err
}

// FetchOutcome maps the result of a key lookup to a metrics label
func FetchOutcome(err error) string {
	if err == nil {
		return "success"
	}
	clientErr := types.GetClientError(err)
	switch {
	case clientErr == nil:
		return "unknown"
	case clientErr.Fetch != "":
		return string(clientErr.Fetch)
	default:
		return clientErr.Code
	}
}
