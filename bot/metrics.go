package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_commands_total",
		Help: "Commands handled, by command",
	}, []string{"command"})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_messages_total",
		Help: "Plain messages handled, by outcome",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rssbot_queue_depth",
		Help: "Messages waiting to be processed across all workers",
	})

	joinAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssbot_join_attempts_total",
		Help: "Room join attempts, by result",
	}, []string{"result"})
)
