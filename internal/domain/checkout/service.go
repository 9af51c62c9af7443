// Package checkout turns a session's cart into a backend order: precondition
// checks, order creation at the selected kiosk and the follow-up payment
// confirmation.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/domain/cart"
	"github.com/pharmamat/pharmamat/internal/domain/machine"
	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// Precondition failures. They are checked in this order and reported one at a
// time, before any backend call is made.
var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrUnfulfilledPrescription = errors.New("cart has items without a linked prescription")
	ErrNoMachineSelected       = errors.New("no pickup machine selected")
)

// Orders is the slice of the pharmacy backend checkout needs.
type Orders interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (*backend.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*backend.Order, error)
}

// MachineSelection resolves the kiosk a session pinned for pickup.
type MachineSelection interface {
	Selected(session string) (*machine.Machine, bool)
}

type Service struct {
	carts    *cart.Manager
	machines MachineSelection
	orders   Orders
	logger   zerolog.Logger
}

func NewService(carts *cart.Manager, machines MachineSelection, orders Orders, logger zerolog.Logger) *Service {
	return &Service{
		carts:    carts,
		machines: machines,
		orders:   orders,
		logger:   logger.With().Str("component", "checkout").Logger(),
	}
}

// Checkout validates the session's cart and creates a pending order at the
// selected kiosk. The cart is cleared only after the backend accepted the
// order; any precondition failure returns before the backend is contacted.
func (s *Service) Checkout(ctx context.Context, session string) (*backend.Order, error) {
	store := s.carts.For(ctx, session)
	c := store.Cart()

	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if c.HasUnfulfilledPrescription() {
		return nil, ErrUnfulfilledPrescription
	}
	m, ok := s.machines.Selected(session)
	if !ok {
		return nil, ErrNoMachineSelected
	}

	order, err := s.orders.CreateOrder(ctx, buildOrderRequest(c, m.ID))
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	// A failed clear must not undo the purchase; the order stands and the
	// stale cart is logged.
	if err := store.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).
			Str("session", session).
			Int64("order_id", order.ID).
			Msg("clearing cart after checkout failed")
	}

	s.logger.Info().
		Str("session", session).
		Int64("order_id", order.ID).
		Int64("machine_id", m.ID).
		Msg("order created")
	return order, nil
}

// ConfirmPayment marks a pending order as paid, releasing it for pickup. It
// is a separate backend call from order creation: a crash in between leaves a
// pending order behind rather than losing a payment.
func (s *Service) ConfirmPayment(ctx context.Context, orderID int64) (*backend.Order, error) {
	order, err := s.orders.UpdateOrderStatus(ctx, orderID, backend.StatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("confirming payment for order %d: %w", orderID, err)
	}
	s.logger.Info().Int64("order_id", orderID).Msg("payment confirmed")
	return order, nil
}

// buildOrderRequest flattens the cart into the backend's wire shape:
// medication ids repeated once per unit, plus the linked prescription ids.
func buildOrderRequest(c cart.Cart, machineID int64) backend.CreateOrderRequest {
	req := backend.CreateOrderRequest{LocationID: machineID}
	for _, item := range c.Items {
		for i := 0; i < item.Quantity; i++ {
			req.MedicationIDs = append(req.MedicationIDs, item.MedicationID)
		}
		if item.Prescription != nil {
			req.PrescriptionIDs = append(req.PrescriptionIDs, item.Prescription.ID)
		}
	}
	return req
}
