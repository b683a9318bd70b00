package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsbot_updates_total",
		Help: "Updates received from Telegram, by route",
	}, []string{"route"})

	pollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsbot_poll_errors_total",
		Help: "Failed getUpdates calls",
	})
)
