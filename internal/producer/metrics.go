package producer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var generationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "branchchat",
	Subsystem: "producer",
	Name:      "generation_seconds",
	Help:      "Wall time of one generation job by mode and outcome.",
	Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
}, []string{"mode", "outcome"})
