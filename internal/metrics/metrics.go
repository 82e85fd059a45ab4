package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_rooms_created_total",
		Help: "Total rooms created",
	})

	RoomsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_rooms_deleted_total",
		Help: "Total rooms hard-deleted",
	})

	RoomsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_rooms_reaped_total",
		Help: "Total rooms deleted by the reaper sweep",
	})

	JoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_joins_total",
		Help: "Total successful room joins",
	})

	LeavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_leaves_total",
		Help: "Total room leaves, including disconnects",
	})

	Participants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtchub_participants",
		Help: "Peer sessions currently live on this instance",
	})

	NegotiationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_negotiations_total",
		Help: "Total SDP offers processed",
	})

	NegotiationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtchub_negotiation_failures_total",
		Help: "Total negotiations that ended in connectionFailed",
	})
)
