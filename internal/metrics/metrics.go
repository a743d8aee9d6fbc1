// Package metrics 定義服務的 Prometheus 指標
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 配對與對局中繼的指標集合
type Metrics struct {
	MatchesCreated  prometheus.Counter
	PlayersQueued   prometheus.Counter
	LockFailures    prometheus.Counter
	LiveSessions    prometheus.Gauge
	MovesRelayed    prometheus.Counter
	InvalidMessages prometheus.Counter
}

// New 創建並註冊所有指標
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		MatchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cubeduel_matches_created_total",
			Help: "Number of two-player matches created",
		}),
		PlayersQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cubeduel_players_queued_total",
			Help: "Number of players placed on the waiting list",
		}),
		LockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cubeduel_lock_failures_total",
			Help: "Matchmaking lock acquisitions that exhausted retries",
		}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cubeduel_live_sessions",
			Help: "Rooms with at least one live websocket connection",
		}),
		MovesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cubeduel_moves_relayed_total",
			Help: "Keyboard move events relayed between peers",
		}),
		InvalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cubeduel_invalid_messages_total",
			Help: "Websocket messages rejected at ingress validation",
		}),
	}

	registry.MustRegister(
		m.MatchesCreated,
		m.PlayersQueued,
		m.LockFailures,
		m.LiveSessions,
		m.MovesRelayed,
		m.InvalidMessages,
	)

	return m
}

// NewUnregistered 創建未註冊的指標集合（測試用）
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
