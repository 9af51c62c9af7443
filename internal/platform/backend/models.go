package backend

import "time"

// Medication is a product listed by the pharmacy backend. Prices are decimal
// euros on the wire.
type Medication struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description,omitempty"`
	Price                float64 `json:"price"`
	PrescriptionRequired bool    `json:"prescription_required"`
}

// Prescription is issued to a patient for a single medication. A prescription
// that has already been attached to an order is fulfilled and cannot back
// another purchase.
type Prescription struct {
	ID           int64 `json:"id"`
	MedicationID int64 `json:"medication_id"`
	Fulfilled    bool  `json:"fulfilled"`
}

// Location is a vending kiosk site.
type Location struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Active    bool    `json:"active"`
}

// Order statuses used by the pharmacy backend.
const (
	StatusPending   = "pending"
	StatusAvailable = "available for pickup"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Order is a purchase registered with the backend. AccessToken is the pickup
// credential presented at the kiosk.
type Order struct {
	ID          int64        `json:"id"`
	Status      string       `json:"status"`
	AccessToken string       `json:"access_token,omitempty"`
	LocationID  int64        `json:"location_id"`
	TotalPrice  float64      `json:"total_price"`
	CreatedAt   time.Time    `json:"created_at"`
	Medications []Medication `json:"medications,omitempty"`
}

// CreateOrderRequest is the wire format for POST /orders. MedicationIDs
// carries one entry per unit, so quantity 3 repeats the same ID three times.
type CreateOrderRequest struct {
	LocationID      int64   `json:"location_id"`
	MedicationIDs   []int64 `json:"medication_ids"`
	PrescriptionIDs []int64 `json:"prescription_ids"`
}

// UpdateOrderStatusRequest is the wire format for PATCH /orders/{id}.
type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}
