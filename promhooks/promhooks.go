// Package promhooks records router activity as Prometheus metrics.
//
//	m, err := promhooks.New(prometheus.DefaultRegisterer, "thingmsg")
//	if err != nil {
//	    return err
//	}
//	r := thingmsg.New(m.Options()...)
package promhooks

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bjaus/thingmsg"
)

// Delivery outcomes used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeUndecodable = "undecodable"
)

// Metrics holds the router collectors.
type Metrics struct {
	Received         prometheus.Counter
	Deliveries       *prometheus.CounterVec
	Unmatched        prometheus.Counter
	InvalidEnvelopes prometheus.Counter
	HandlerDuration  *prometheus.HistogramVec
}

// New creates the collectors under namespace and registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of inbound messages handed to the router",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "deliveries_total",
			Help:      "Deliveries to registrations by outcome (success, failure, undecodable)",
		}, []string{"registration", "outcome"}),
		Unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "unmatched_total",
			Help:      "Total number of inbound messages no registration matched",
		}),
		InvalidEnvelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "invalid_envelopes_total",
			Help:      "Total number of wire envelopes that could not be parsed",
		}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Handler execution time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"registration"}),
	}

	for _, c := range []prometheus.Collector{m.Received, m.Deliveries, m.Unmatched, m.InvalidEnvelopes, m.HandlerDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Options returns router options feeding the collectors.
func (m *Metrics) Options() []thingmsg.Option {
	return []thingmsg.Option{
		thingmsg.WithOnReceive(func(ctx context.Context, _ thingmsg.InboundMessage) context.Context {
			m.Received.Inc()
			return ctx
		}),
		thingmsg.WithOnSuccess(func(_ context.Context, key, _ string, d time.Duration) {
			m.Deliveries.WithLabelValues(key, OutcomeSuccess).Inc()
			m.HandlerDuration.WithLabelValues(key).Observe(d.Seconds())
		}),
		thingmsg.WithOnFailure(func(_ context.Context, key, _ string, _ error, d time.Duration) {
			m.Deliveries.WithLabelValues(key, OutcomeFailure).Inc()
			m.HandlerDuration.WithLabelValues(key).Observe(d.Seconds())
		}),
		thingmsg.WithOnDeliveryError(func(_ context.Context, key, _ string, _ error) {
			m.Deliveries.WithLabelValues(key, OutcomeUndecodable).Inc()
		}),
		thingmsg.WithOnUnmatched(func(context.Context, thingmsg.InboundMessage) {
			m.Unmatched.Inc()
		}),
		thingmsg.WithOnInvalidEnvelope(m.ObserveInvalidEnvelope),
	}
}

// ObserveInvalidEnvelope counts bytes that did not parse as an envelope. Its
// signature fits both the router hook and transports that parse envelopes
// before the router sees them.
func (m *Metrics) ObserveInvalidEnvelope(context.Context, []byte, error) {
	m.InvalidEnvelopes.Inc()
}
