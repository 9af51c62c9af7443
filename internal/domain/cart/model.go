// Package cart maintains the authoritative per-session cart: item mutations,
// price derivation with prescription co-payment, and persistence across
// sessions.
package cart

import (
	"math"
	"strconv"
	"time"

	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// MaxQuantity caps the units of one medication per cart line.
const MaxQuantity = 99

// Display group keys. Items linked to a prescription are grouped under the
// prescription's id instead.
const (
	GroupOTC                  = "otc"
	GroupPrescriptionRequired = "prescription-required"
)

// Item is one cart line. Prices are stored in cents; the backend speaks
// decimal euros, converted once on the way in.
type Item struct {
	MedicationID         int64                 `json:"medication_id"`
	Name                 string                `json:"name"`
	PrescriptionRequired bool                  `json:"prescription_required"`
	PriceCents           int64                 `json:"price_cents"`
	Quantity             int                   `json:"quantity"`
	Prescription         *backend.Prescription `json:"prescription,omitempty"`
	AddedAt              time.Time             `json:"added_at"`
}

// Cart is an ordered collection of items. Aggregates are always derived from
// the item list, never stored.
type Cart struct {
	Items []Item `json:"items"`
}

// Summary is the derived view of a cart returned to clients.
type Summary struct {
	Items                      []Item            `json:"items"`
	TotalCents                 int64             `json:"total_cents"`
	ItemCount                  int               `json:"item_count"`
	HasUnfulfilledPrescription bool              `json:"has_unfulfilled_prescription"`
	Groups                     map[string][]Item `json:"groups"`
}

// CentsFromEuros converts a decimal euro amount to cents, rounding to the
// nearest cent.
func CentsFromEuros(euros float64) int64 {
	return int64(math.Round(euros * 100))
}

// CoPaymentCents applies the statutory co-payment formula to a full price:
// 10% of the price, clamped to [5€, 10€], and never more than the price
// itself. A non-positive price is free.
func CoPaymentCents(fullPriceCents int64) int64 {
	if fullPriceCents <= 0 {
		return 0
	}
	copay := int64(math.Round(float64(fullPriceCents) * 0.10))
	if copay < 500 {
		copay = 500
	}
	if copay > 1000 {
		copay = 1000
	}
	if copay > fullPriceCents {
		copay = fullPriceCents
	}
	return copay
}

// UnitPriceCents returns the per-unit amount the patient owes for the item.
// Items backed by a linked prescription are charged the co-payment instead of
// the full price.
func (i Item) UnitPriceCents() int64 {
	if i.Prescription != nil {
		return CoPaymentCents(i.PriceCents)
	}
	return i.PriceCents
}

// Fulfilled reports whether the item's prescription requirement is satisfied.
func (i Item) Fulfilled() bool {
	return !i.PrescriptionRequired || i.Prescription != nil
}

// GroupKey returns the display bucket for the item.
func (i Item) GroupKey() string {
	if i.Prescription != nil {
		return strconv.FormatInt(i.Prescription.ID, 10)
	}
	if i.PrescriptionRequired {
		return GroupPrescriptionRequired
	}
	return GroupOTC
}

// TotalCents returns the amount owed across the whole cart.
func (c *Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPriceCents() * int64(item.Quantity)
	}
	return total
}

// ItemCount returns the number of units across all lines.
func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// HasUnfulfilledPrescription reports whether any item still needs a
// prescription linked before checkout.
func (c *Cart) HasUnfulfilledPrescription() bool {
	for _, item := range c.Items {
		if !item.Fulfilled() {
			return true
		}
	}
	return false
}

// Groups partitions items into display buckets. The partition is recomputed
// from scratch on every call so it can never go stale.
func (c *Cart) Groups() map[string][]Item {
	groups := make(map[string][]Item)
	for _, item := range c.Items {
		key := item.GroupKey()
		groups[key] = append(groups[key], item)
	}
	return groups
}

// Summarize builds the full derived view of the cart.
func (c *Cart) Summarize() Summary {
	items := c.Items
	if items == nil {
		items = []Item{}
	}
	return Summary{
		Items:                      items,
		TotalCents:                 c.TotalCents(),
		ItemCount:                  c.ItemCount(),
		HasUnfulfilledPrescription: c.HasUnfulfilledPrescription(),
		Groups:                     c.Groups(),
	}
}

// find returns the index of the line holding medicationID, or -1.
func (c *Cart) find(medicationID int64) int {
	for i, item := range c.Items {
		if item.MedicationID == medicationID {
			return i
		}
	}
	return -1
}
