// Package metrics declares the Prometheus instruments the relay exposes,
// one per observable effect of admission, departure, and fan-out rather
// than one per wire event — §7's admission-outcome and protocol-violation
// policies are the metric boundary, not the frame types that trigger them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live WebSocket connections across all rooms.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabrelay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections.",
	})

	// ActiveRooms tracks the number of live rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabrelay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms held by the registry.",
	})

	// RoomParticipants tracks participant count per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "collabrelay",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants currently in a room.",
	}, []string{"room"})

	// AdmissionOutcomes counts admission attempts by result.
	AdmissionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Subsystem: "admission",
		Name:      "outcomes_total",
		Help:      "Admission attempts partitioned by outcome (admitted, room_full, duplicate_client, origin_rejected).",
	}, []string{"outcome"})

	// BroadcastFrames counts fan-out frames by kind (binary, control).
	BroadcastFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Subsystem: "room",
		Name:      "broadcast_frames_total",
		Help:      "Frames fanned out to other participants, partitioned by kind.",
	}, []string{"kind"})

	// ProtocolViolations counts per-session protocol errors by reason.
	ProtocolViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Subsystem: "session",
		Name:      "protocol_violations_total",
		Help:      "Protocol violations observed on a session, partitioned by reason.",
	}, []string{"reason"})
)
