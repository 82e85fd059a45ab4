// Package room is the service layer over the room registry: creation
// validation, lookups, occupancy bookkeeping and the soft-delete rule.
package room

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/metrics"
	"github.com/rtchub/rtchub/internal/registry"
)

// creatableStates scope duplicate-name checks and listings: an
// inactive room's name is free and the room itself is invisible.
var creatableStates = []domain.RoomState{domain.RoomCreated, domain.RoomActive}

var ErrInvalidRoomName = errors.New("invalid room name")

type Service struct {
	reg registry.Registry
	// maxCapacity caps the maxOccupancy a room may be created with.
	maxCapacity int
}

func NewService(reg registry.Registry, maxCapacity int) *Service {
	return &Service{reg: reg, maxCapacity: maxCapacity}
}

type CreateParams struct {
	Name         string
	Creator      string
	Password     string
	Private      bool
	MaxOccupancy int
}

// ValidateRoomCreation rejects oversized or duplicate rooms before any
// side effect is applied.
func (s *Service) ValidateRoomCreation(ctx context.Context, name string, maxOccupancy int) error {
	if name == "" || len(name) > domain.MaxRoomNameLen {
		return ErrInvalidRoomName
	}
	if maxOccupancy < 1 || maxOccupancy > s.maxCapacity {
		return domain.ErrCapacityExceeded
	}
	found, err := s.reg.Search(ctx, registry.SearchQuery{Keyword: name, States: creatableStates})
	if err != nil {
		return err
	}
	for _, r := range found {
		if r.Name == name {
			return domain.ErrDuplicateRoomName
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Room, error) {
	if err := s.ValidateRoomCreation(ctx, p.Name, p.MaxOccupancy); err != nil {
		return nil, err
	}
	r := domain.NewRoom(p.Name, p.Creator, p.Password, p.Private, p.MaxOccupancy)
	if err := s.reg.Create(ctx, r); err != nil {
		return nil, err
	}
	metrics.RoomsCreatedTotal.Inc()
	log.Info().Str("module", "room").Str("room", string(r.ID)).Str("name", r.Name).Msg("room created")
	return r, nil
}

func (s *Service) Find(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.reg.Get(ctx, id)
}

// List returns creatable rooms matching the keyword, newest first.
func (s *Service) List(ctx context.Context, keyword string, pageNum, pageSize int) ([]*domain.Room, error) {
	return s.reg.Search(ctx, registry.SearchQuery{
		Keyword:  keyword,
		States:   creatableStates,
		PageNum:  pageNum,
		PageSize: pageSize,
	})
}

// CheckPassword reports whether the given password opens the room.
// Rooms without a password admit anyone.
func (s *Service) CheckPassword(ctx context.Context, id domain.RoomID, password string) (bool, error) {
	r, err := s.reg.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return r.Password == "" || r.Password == password, nil
}

// CheckCapacity reports whether one more participant fits.
func (s *Service) CheckCapacity(ctx context.Context, id domain.RoomID) (bool, error) {
	r, err := s.reg.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return r.Occupancy+1 <= r.MaxOccupancy, nil
}

// Update edits room metadata. Occupancy and state are untouched.
func (s *Service) Update(ctx context.Context, id domain.RoomID, name, password string, maxOccupancy int) (*domain.Room, error) {
	r, err := s.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if maxOccupancy < 1 || maxOccupancy > s.maxCapacity {
		return nil, domain.ErrCapacityExceeded
	}
	r.Name = name
	r.Password = password
	r.MaxOccupancy = maxOccupancy
	if err := s.reg.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Activate flips the room to the active state. The transition writes
// only the state field: r may carry an occupancy read before a
// concurrent join's increment, and a full-record write here would
// erase that increment.
func (s *Service) Activate(ctx context.Context, r *domain.Room) error {
	if r.State == domain.RoomActive {
		return nil
	}
	r.Activate()
	return s.reg.SetState(ctx, r.ID, domain.RoomActive)
}

// SoftDelete moves an empty room to inactive. A room with participants
// is left untouched and ErrRoomBusy is returned.
func (s *Service) SoftDelete(ctx context.Context, id domain.RoomID) error {
	r, err := s.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Occupancy > 0 {
		return domain.ErrRoomBusy
	}
	if err := s.reg.SetState(ctx, id, domain.RoomInactive); err != nil {
		return err
	}
	log.Info().Str("module", "room").Str("room", string(id)).Msg("room deactivated")
	return nil
}

// Delete removes the persisted record. Idempotent.
func (s *Service) Delete(ctx context.Context, id domain.RoomID) error {
	if err := s.reg.Delete(ctx, id); err != nil {
		return err
	}
	metrics.RoomsDeletedTotal.Inc()
	return nil
}

// PlusOccupancy atomically bumps the room's occupancy.
func (s *Service) PlusOccupancy(ctx context.Context, id domain.RoomID) (int, error) {
	return s.reg.IncrOccupancy(ctx, id, 1)
}

// MinusOccupancy atomically lowers the room's occupancy, never below
// zero.
func (s *Service) MinusOccupancy(ctx context.Context, id domain.RoomID) (int, error) {
	return s.reg.IncrOccupancy(ctx, id, -1)
}
