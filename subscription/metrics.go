package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriber_polls_total",
		Help: "Number of completed subscription polls",
	})

	roundsSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriber_rounds_synced_total",
		Help: "Number of rounds processed across all polls",
	})

	blocksFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriber_blocks_fetched_total",
		Help: "Number of raw blocks fetched from the node",
	})

	transactionsMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriber_transactions_matched_total",
		Help: "Number of transactions matched by the configured filters",
	})

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "subscriber_poll_duration_seconds",
		Help:    "Duration of one subscription poll",
		Buckets: prometheus.DefBuckets,
	})
)
