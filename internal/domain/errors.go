package domain

import "errors"

var (
	// ErrRoomNotFound is returned when the referenced room does not
	// exist in the registry. Surfaced to the caller, never retried.
	ErrRoomNotFound = errors.New("room does not exist")

	// ErrDuplicateRoomName rejects creation while another room with
	// the same name is in the created or active state.
	ErrDuplicateRoomName = errors.New("room name already exists")

	// ErrCapacityExceeded rejects creation or join attempts that would
	// exceed an occupancy bound.
	ErrCapacityExceeded = errors.New("room capacity exceeded")

	// ErrRoomBusy rejects deleting a room that still has participants.
	ErrRoomBusy = errors.New("room is not empty")

	// ErrPeerNotFound is returned when a signaling message references
	// a peer with no live session.
	ErrPeerNotFound = errors.New("peer does not exist")
)
