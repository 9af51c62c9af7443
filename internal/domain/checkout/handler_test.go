package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/domain/cart"
	"github.com/pharmamat/pharmamat/internal/domain/machine"
	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

func newTestEcho(t *testing.T, sel *mockSelection, orders *mockOrders) (*echo.Echo, *cart.Store) {
	t.Helper()
	carts := cart.NewManager(cart.NewMemoryRepo(), zerolog.Nop(), nil)
	svc := NewService(carts, sel, orders, zerolog.Nop())

	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api"))
	return e, carts.For(context.Background(), "default")
}

func post(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Checkout_RedirectHints(t *testing.T) {
	tests := []struct {
		name     string
		fill     func(ctx context.Context, store *cart.Store)
		selected *machine.Machine
		redirect string
	}{
		{
			name:     "empty cart",
			fill:     func(context.Context, *cart.Store) {},
			selected: &machine.Machine{ID: 1},
			redirect: "/cart",
		},
		{
			name: "unfulfilled prescription",
			fill: func(ctx context.Context, store *cart.Store) {
				store.AddItem(ctx, cart.Item{MedicationID: 2, PrescriptionRequired: true, Quantity: 1})
			},
			selected: &machine.Machine{ID: 1},
			redirect: "/prescriptions",
		},
		{
			name: "no machine selected",
			fill: func(ctx context.Context, store *cart.Store) {
				store.AddItem(ctx, cart.Item{MedicationID: 1, Quantity: 1})
			},
			redirect: "/machines",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEcho(t, &mockSelection{machine: tt.selected}, &mockOrders{})
			tt.fill(context.Background(), store)

			rec := post(e, "/api/checkout")
			if rec.Code != http.StatusConflict {
				t.Fatalf("status = %d, want 409", rec.Code)
			}
			var body preconditionError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Redirect != tt.redirect {
				t.Errorf("redirect = %q, want %q", body.Redirect, tt.redirect)
			}
		})
	}
}

func TestHandler_Checkout_Success(t *testing.T) {
	e, store := newTestEcho(t, &mockSelection{machine: &machine.Machine{ID: 3}}, &mockOrders{})
	if err := store.AddItem(context.Background(), cart.Item{MedicationID: 1, Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	rec := post(e, "/api/checkout")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}
	var order backend.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
		t.Fatalf("decoding order: %v", err)
	}
	if order.Status != backend.StatusPending {
		t.Errorf("status = %q, want pending", order.Status)
	}
}

func TestHandler_ConfirmPayment(t *testing.T) {
	e, _ := newTestEcho(t, &mockSelection{}, &mockOrders{})

	rec := post(e, "/api/checkout/42/confirm")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	var order backend.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
		t.Fatalf("decoding order: %v", err)
	}
	if order.Status != backend.StatusAvailable {
		t.Errorf("status = %q, want %q", order.Status, backend.StatusAvailable)
	}

	if rec := post(e, "/api/checkout/abc/confirm"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}
