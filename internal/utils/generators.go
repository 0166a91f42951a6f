package utils

import (
	"github.com/google/uuid"
)

// Prefixed ids keep entity kinds distinguishable in logs and kafka keys.

func NewBatchID() string {
	return "bat_" + uuid.NewString()
}

func NewInstanceID() string {
	return "tkt_" + uuid.NewString()
}

func NewReservationID() string {
	return "rsv_" + uuid.NewString()
}

func NewEventID() string {
	return "evt_" + uuid.NewString()
}

func NewPrincipalID(role string) string {
	switch role {
	case "supplier":
		return "sup_" + uuid.NewString()
	default:
		return "dist_" + uuid.NewString()
	}
}
