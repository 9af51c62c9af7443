// Package order exposes the patient's orders: listing, pickup QR codes,
// cancellation and live status tracking against the pharmacy backend.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// qrSize is the pixel edge length of generated pickup codes.
const qrSize = 256

var (
	// ErrNotFound is returned when the backend does not know the order.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyCompleted is returned when cancelling an order that was
	// already picked up.
	ErrAlreadyCompleted = errors.New("order already completed")
	// ErrNoAccessToken is returned when an order carries no pickup token to
	// encode.
	ErrNoAccessToken = errors.New("order has no access token")
)

// Backend is the slice of the pharmacy backend the order service needs.
type Backend interface {
	ListOrders(ctx context.Context) ([]backend.Order, error)
	GetOrder(ctx context.Context, id int64) (*backend.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*backend.Order, error)
}

// IsTerminal reports whether a status ends an order's lifecycle.
func IsTerminal(status string) bool {
	return status == backend.StatusCompleted || status == backend.StatusCancelled
}

type Service struct {
	backend Backend
	logger  zerolog.Logger
}

func NewService(b Backend, logger zerolog.Logger) *Service {
	return &Service{
		backend: b,
		logger:  logger.With().Str("component", "order").Logger(),
	}
}

// List returns the patient's orders.
func (s *Service) List(ctx context.Context) ([]backend.Order, error) {
	orders, err := s.backend.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id int64) (*backend.Order, error) {
	o, err := s.backend.GetOrder(ctx, id)
	if err != nil {
		if backend.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching order %d: %w", id, err)
	}
	return o, nil
}

// Cancel marks an order cancelled. Cancelling an already cancelled order is a
// no-op; a completed order cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id int64) (*backend.Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case backend.StatusCancelled:
		return o, nil
	case backend.StatusCompleted:
		return nil, ErrAlreadyCompleted
	}

	updated, err := s.backend.UpdateOrderStatus(ctx, id, backend.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancelling order %d: %w", id, err)
	}
	s.logger.Info().Int64("order_id", id).Msg("order cancelled")
	return updated, nil
}

// PickupQR renders the order's access token as a PNG QR code the kiosk
// scanner accepts.
func (s *Service) PickupQR(ctx context.Context, id int64) ([]byte, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	png, err := qrcode.Encode(o.AccessToken, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encoding pickup code for order %d: %w", id, err)
	}
	return png, nil
}
