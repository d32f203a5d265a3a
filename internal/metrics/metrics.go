// Package metrics exposes the verification core's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts session scan outcomes by result: the accepted
	// classification or the rejection reason.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_scans_total",
		Help: "Session QR scan outcomes.",
	}, []string{"result"})

	// Taps counts card tap outcomes by result.
	Taps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_taps_total",
		Help: "Gate card tap outcomes.",
	}, []string{"result"})

	// GateEvents counts accepted manual gate check-ins and check-outs.
	GateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_gate_events_total",
		Help: "Accepted gate check-in/check-out events.",
	}, []string{"type"})

	// NotificationsSent counts dispatch attempts from the worker.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_notifications_total",
		Help: "Notification dispatch attempts by outcome.",
	}, []string{"outcome"})
)
