package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsbot_articles_added_total",
		Help: "The total number of articles stored, by feed",
	}, []string{"feed"})

	feedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsbot_feed_errors_total",
		Help: "Feeds skipped in a fetch cycle because of an error or timeout",
	}, []string{"feed"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsbot_fetch_cycle_duration_seconds",
		Help:    "Duration of a full fetch cycle over all feeds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
