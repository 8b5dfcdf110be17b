package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "branchchat",
		Subsystem: "ledger",
		Name:      "streams_created_total",
		Help:      "Stream entries allocated.",
	})
	appends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "branchchat",
		Subsystem: "ledger",
		Name:      "appends_total",
		Help:      "Chunks appended across all streams.",
	})
	appendedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "branchchat",
		Subsystem: "ledger",
		Name:      "appended_bytes_total",
		Help:      "Bytes appended across all streams.",
	})
	finalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "branchchat",
		Subsystem: "ledger",
		Name:      "finalized_total",
		Help:      "Streams moved to a terminal status.",
	}, []string{"status"})
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "branchchat",
		Subsystem: "ledger",
		Name:      "subscribers",
		Help:      "Live stream subscriptions.",
	})
	collected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "branchchat",
		Subsystem: "ledger",
		Name:      "collected_total",
		Help:      "Unreferenced terminal streams deleted by the collector.",
	})
)
