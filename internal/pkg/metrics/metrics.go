// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roamwire"

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Inbound webhook events by source and outcome.",
	}, []string{"source", "outcome"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_processing_seconds",
		Help:      "Time spent reconciling one webhook event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Committed order status changes.",
	}, []string{"from", "to"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Customer notification attempts by kind and result.",
	}, []string{"kind", "result"})

	DiscountReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discount_reservations_total",
		Help:      "Discount reservation attempts by result.",
	}, []string{"result"})

	// DiscountViolations counts paid orders whose redemption would have
	// exceeded a code's maximum. Any non-zero value needs a human.
	DiscountViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discount_invariant_violations_total",
		Help:      "Redemptions refused because the code was already fully used.",
	})

	ReplayJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_jobs_total",
		Help:      "Parked webhook replays by result.",
	}, []string{"result"})

	CheckoutAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_attempts_total",
		Help:      "Payment attempts created at checkout by result.",
	}, []string{"result"})
)

// Handler serves the default registry through Fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
