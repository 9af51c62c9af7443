// Package machine exposes the vending kiosks orders are picked up from and
// tracks which kiosk each session has selected for checkout.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/platform/backend"
	"github.com/pharmamat/pharmamat/internal/platform/geo"
)

var (
	// ErrNotFound is returned when a kiosk id does not exist or is inactive.
	ErrNotFound = errors.New("machine not found")
	// ErrNoActiveMachines is returned by SelectNearest when no kiosk can be
	// chosen.
	ErrNoActiveMachines = errors.New("no active machines available")
)

// Locations is the slice of the pharmacy backend the kiosk service needs.
type Locations interface {
	ListLocations(ctx context.Context) ([]backend.Location, error)
	GetLocation(ctx context.Context, id int64) (*backend.Location, error)
}

// Machine is a pickup kiosk as presented to the patient app. DistanceKm is
// populated only when the listing was made relative to a patient position.
type Machine struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Active     bool     `json:"active"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

func fromLocation(loc backend.Location) Machine {
	return Machine{
		ID:        loc.ID,
		Name:      loc.Name,
		Address:   loc.Address,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Active:    loc.Active,
	}
}

func (m Machine) coordinates() geo.Coordinates {
	return geo.Coordinates{Latitude: m.Latitude, Longitude: m.Longitude}
}

// hasPosition reports whether the kiosk carries usable coordinates. Kiosks
// registered without a position sit at the (0,0) null island sentinel.
func (m Machine) hasPosition() bool {
	return m.Latitude != 0 || m.Longitude != 0
}

// Service lists kiosks from the backend and keeps one selected kiosk per
// session in memory. The selection is ephemeral checkout state, not data.
type Service struct {
	locations Locations
	logger    zerolog.Logger

	mu       sync.RWMutex
	selected map[string]Machine
}

func NewService(locations Locations, logger zerolog.Logger) *Service {
	return &Service{
		locations: locations,
		logger:    logger.With().Str("component", "machine").Logger(),
		selected:  make(map[string]Machine),
	}
}

// List returns all active kiosks. When origin is non-nil each kiosk with a
// position gets a distance and the list is sorted nearest first; kiosks
// without a position sort last.
func (s *Service) List(ctx context.Context, origin *geo.Coordinates) ([]Machine, error) {
	locs, err := s.locations.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}

	machines := make([]Machine, 0, len(locs))
	for _, loc := range locs {
		if !loc.Active {
			continue
		}
		m := fromLocation(loc)
		if origin != nil && m.hasPosition() {
			d := geo.Distance(*origin, m.coordinates())
			m.DistanceKm = &d
		}
		machines = append(machines, m)
	}

	if origin != nil {
		sort.SliceStable(machines, func(i, j int) bool {
			a, b := machines[i], machines[j]
			switch {
			case a.DistanceKm == nil:
				return false
			case b.DistanceKm == nil:
				return true
			case *a.DistanceKm != *b.DistanceKm:
				return *a.DistanceKm < *b.DistanceKm
			default:
				return a.ID < b.ID
			}
		})
	}
	return machines, nil
}

// Get returns one active kiosk by id.
func (s *Service) Get(ctx context.Context, id int64) (*Machine, error) {
	loc, err := s.locations.GetLocation(ctx, id)
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching machine %d: %w", id, err)
	}
	if !loc.Active {
		return nil, ErrNotFound
	}
	m := fromLocation(*loc)
	return &m, nil
}

// Select pins a kiosk for the session after validating it exists and is
// active.
func (s *Service) Select(ctx context.Context, session string, id int64) (*Machine, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.selected[session] = *m
	s.mu.Unlock()

	s.logger.Info().Str("session", session).Int64("machine_id", id).Msg("machine selected")
	return m, nil
}

// SelectNearest picks the active kiosk closest to origin and pins it for the
// session. Kiosks without a position are skipped; a distance tie breaks
// toward the lowest id.
func (s *Service) SelectNearest(ctx context.Context, session string, origin geo.Coordinates) (*Machine, error) {
	machines, err := s.List(ctx, &origin)
	if err != nil {
		return nil, err
	}

	var best *Machine
	for i := range machines {
		m := &machines[i]
		if m.DistanceKm == nil {
			continue
		}
		if best == nil ||
			*m.DistanceKm < *best.DistanceKm ||
			(*m.DistanceKm == *best.DistanceKm && m.ID < best.ID) {
			best = m
		}
	}
	if best == nil {
		return nil, ErrNoActiveMachines
	}

	s.mu.Lock()
	s.selected[session] = *best
	s.mu.Unlock()

	s.logger.Info().
		Str("session", session).
		Int64("machine_id", best.ID).
		Float64("distance_km", *best.DistanceKm).
		Msg("nearest machine selected")
	return best, nil
}

// Selected returns the session's pinned kiosk, if any.
func (s *Service) Selected(session string) (*Machine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.selected[session]
	if !ok {
		return nil, false
	}
	return &m, true
}

// ClearSelection drops the session's pinned kiosk. Clearing an absent
// selection is a no-op.
func (s *Service) ClearSelection(session string) {
	s.mu.Lock()
	delete(s.selected, session)
	s.mu.Unlock()
}
