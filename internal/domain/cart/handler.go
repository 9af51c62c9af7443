package cart

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pharmamat/pharmamat/internal/platform/auth"
	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

// Catalog is the slice of the pharmacy backend the cart needs: resolving
// medications and prescriptions the patient wants to add.
type Catalog interface {
	GetMedication(ctx context.Context, id int64) (*backend.Medication, error)
	GetPrescription(ctx context.Context, id int64) (*backend.Prescription, error)
}

type Handler struct {
	carts   *Manager
	catalog Catalog
}

func NewHandler(carts *Manager, catalog Catalog) *Handler {
	return &Handler{carts: carts, catalog: catalog}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/cart", h.GetCart)
	api.DELETE("/cart", h.ClearCart)
	api.POST("/cart/items", h.AddItem)
	api.PATCH("/cart/items/:id", h.UpdateQuantity)
	api.DELETE("/cart/items/:id", h.RemoveItem)
	api.POST("/cart/prescriptions", h.AttachPrescription)
}

func (h *Handler) store(c echo.Context) *Store {
	ctx := c.Request().Context()
	return h.carts.For(ctx, auth.Subject(ctx))
}

// GetCart returns the derived cart view.
func (h *Handler) GetCart(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store(c).Summary())
}

type addItemRequest struct {
	MedicationID   int64 `json:"medication_id"`
	Quantity       int   `json:"quantity"`
	PrescriptionID int64 `json:"prescription_id,omitempty"`
}

// AddItem resolves the medication (and optional prescription) against the
// backend and puts it in the cart.
func (h *Handler) AddItem(c echo.Context) error {
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MedicationID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "medication_id is required")
	}

	ctx := c.Request().Context()

	med, err := h.catalog.GetMedication(ctx, req.MedicationID)
	if err != nil {
		if backend.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "medication not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	var prescription *backend.Prescription
	if req.PrescriptionID != 0 {
		prescription, err = h.catalog.GetPrescription(ctx, req.PrescriptionID)
		if err != nil {
			if backend.IsNotFound(err) {
				return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
			}
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		if prescription.MedicationID != med.ID {
			return echo.NewHTTPError(http.StatusBadRequest, "prescription is for a different medication")
		}
	}

	store := h.store(c)
	item := Item{
		MedicationID:         med.ID,
		Name:                 med.Name,
		PrescriptionRequired: med.PrescriptionRequired,
		PriceCents:           CentsFromEuros(med.Price),
		Quantity:             req.Quantity,
		Prescription:         prescription,
	}
	if err := store.AddItem(ctx, item); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, store.Summary())
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateQuantity sets a line's quantity; zero or negative removes the line.
func (h *Handler) UpdateQuantity(c echo.Context) error {
	medID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medication id")
	}

	var req updateQuantityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	store := h.store(c)
	if err := store.UpdateQuantity(c.Request().Context(), medID, req.Quantity); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, store.Summary())
}

// RemoveItem deletes a line from the cart.
func (h *Handler) RemoveItem(c echo.Context) error {
	medID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medication id")
	}

	store := h.store(c)
	if err := store.RemoveItem(c.Request().Context(), medID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, store.Summary())
}

type attachPrescriptionRequest struct {
	PrescriptionID int64 `json:"prescription_id"`
}

// AttachPrescription links a prescription to the cart line holding its
// medication.
func (h *Handler) AttachPrescription(c echo.Context) error {
	var req attachPrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PrescriptionID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "prescription_id is required")
	}

	ctx := c.Request().Context()
	prescription, err := h.catalog.GetPrescription(ctx, req.PrescriptionID)
	if err != nil {
		if backend.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "prescription not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	store := h.store(c)
	current := store.Cart()
	if current.find(prescription.MedicationID) < 0 {
		return echo.NewHTTPError(http.StatusNotFound, "prescription medication is not in the cart")
	}
	if err := store.AttachPrescription(ctx, prescription.MedicationID, prescription); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, store.Summary())
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(c echo.Context) error {
	store := h.store(c)
	if err := store.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, store.Summary())
}
