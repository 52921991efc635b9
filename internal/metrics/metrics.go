package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal *prometheus.CounterVec
	channelEvents     *prometheus.CounterVec
	channelReconnects prometheus.Counter
	votesTotal        *prometheus.CounterVec
	registerOnce      sync.Once
)

// Register initializes Prometheus metrics on the default registry.
func Register() {
	registerOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voteapp",
			Name:      "http_requests_total",
			Help:      "Total REST requests, labelled by route pattern and status.",
		}, []string{"method", "path", "status"})
		channelEvents = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voteapp",
			Name:      "channel_events_total",
			Help:      "Realtime channel events sent or received.",
		}, []string{"event"})
		channelReconnects = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "voteapp",
			Name:      "channel_reconnects_total",
			Help:      "Realtime channel connections established after a loss.",
		})
		votesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voteapp",
			Name:      "votes_total",
			Help:      "Vote submissions by outcome.",
		}, []string{"outcome"})
	})
}

// IncRequest increments the http_requests_total counter with the given labels.
func IncRequest(method, path string, status int) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func IncChannelEvent(event string) {
	if channelEvents == nil {
		return
	}
	channelEvents.WithLabelValues(event).Inc()
}

func IncReconnect() {
	if channelReconnects == nil {
		return
	}
	channelReconnects.Inc()
}

// IncVote records a submission outcome: ok, already_voted, rejected, error.
func IncVote(outcome string) {
	if votesTotal == nil {
		return
	}
	votesTotal.WithLabelValues(outcome).Inc()
}
