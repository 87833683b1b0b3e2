package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	postedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "ledger",
		Name:      "transactions_posted_total",
		Help:      "Transactions appended to the log, by category.",
	}, []string{"category"})

	duplicatePostsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "ledger",
		Name:      "duplicate_posts_suppressed_total",
		Help:      "Re-posts suppressed by content-addressed transaction IDs.",
	})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patronage",
		Subsystem: "ledger",
		Name:      "transactions_rejected_total",
		Help:      "Transactions rejected before append, by reason.",
	}, []string{"reason"})
)
