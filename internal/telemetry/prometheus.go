package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/videoroom/internal/domain"
)

const namespace string = "videoroom"

var (
	promRoomJoinTotal         *prometheus.CounterVec
	promRoomActive            *prometheus.GaugeVec
	promRosterSyncTotal       *prometheus.CounterVec
	promProviderFallbackTotal prometheus.Counter
)

func init() {
	promRoomJoinTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "join_total",
	}, []string{"provider", "status"})

	promRoomActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "active",
	}, []string{"provider"})

	promRosterSyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "roster",
		Name:      "sync_total",
	}, []string{"provider"})

	promProviderFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "fallback_total",
	})

	prometheus.MustRegister(promRoomJoinTotal)
	prometheus.MustRegister(promRoomActive)
	prometheus.MustRegister(promRosterSyncTotal)
	prometheus.MustRegister(promProviderFallbackTotal)
}

func RoomJoined(provider domain.ProviderName) {
	promRoomJoinTotal.WithLabelValues(string(provider), "success").Inc()
	promRoomActive.WithLabelValues(string(provider)).Inc()
}

func RoomJoinFailed(provider domain.ProviderName) {
	promRoomJoinTotal.WithLabelValues(string(provider), "error").Inc()
}

func RoomLeft(provider domain.ProviderName) {
	promRoomActive.WithLabelValues(string(provider)).Dec()
}

func RosterSynced(provider domain.ProviderName) {
	promRosterSyncTotal.WithLabelValues(string(provider)).Inc()
}

func ProviderFallback() {
	promProviderFallbackTotal.Inc()
}
