package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events appended to the log, by type.",
	}, []string{"type"})

	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "events",
		Name:      "delivered_total",
		Help:      "Successful handler deliveries, by consumer.",
	}, []string{"consumer"})

	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "events",
		Name:      "duplicates_suppressed_total",
		Help:      "Redeliveries suppressed by the idempotency record, by consumer.",
	}, []string{"consumer"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "events",
		Name:      "delivery_failures_total",
		Help:      "Handler failures left unrecorded for retry, by consumer.",
	}, []string{"consumer"})
)
