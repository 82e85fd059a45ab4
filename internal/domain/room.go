// Package domain contains entities without logic, just meta-data.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoomID string

// RoomState tracks where a room is in its lifecycle. A room is created
// until somebody joins it, active while it holds media resources, and
// inactive after a soft delete. Inactive rooms can be rejoined, which
// reactivates them; only a hard delete removes the record.
type RoomState string

const (
	RoomCreated  RoomState = "created"
	RoomActive   RoomState = "active"
	RoomInactive RoomState = "inactive"
)

// AllRoomStates is the full lifecycle set.
var AllRoomStates = []RoomState{RoomCreated, RoomActive, RoomInactive}

func (s RoomState) Valid() bool {
	switch s {
	case RoomCreated, RoomActive, RoomInactive:
		return true
	}
	return false
}

const MaxRoomNameLen = 36

type Room struct {
	ID           RoomID    `json:"roomId"`
	Name         string    `json:"name"`
	Creator      string    `json:"creator"`
	Password     string    `json:"-"`
	Private      bool      `json:"isPrivate"`
	MaxOccupancy int       `json:"maxOccupancy"`
	Occupancy    int       `json:"occupancy"`
	CreatedAt    int64     `json:"createdAt"` // unix millis
	State        RoomState `json:"state"`
}

// NewRoom builds a room in the created state with a fresh id.
func NewRoom(name, creator, password string, private bool, maxOccupancy int) *Room {
	return &Room{
		ID:           RoomID(uuid.NewString()),
		Name:         name,
		Creator:      creator,
		Password:     password,
		Private:      private,
		MaxOccupancy: maxOccupancy,
		CreatedAt:    time.Now().UnixMilli(),
		State:        RoomCreated,
	}
}

func (r *Room) Activate() {
	r.State = RoomActive
}

func (r *Room) Deactivate() {
	r.State = RoomInactive
}
