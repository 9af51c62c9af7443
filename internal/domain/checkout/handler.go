package checkout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pharmamat/pharmamat/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/checkout", h.Checkout)
	api.POST("/checkout/:id/confirm", h.ConfirmPayment)
}

// preconditionError carries the app screen that resolves a failed checkout
// precondition.
type preconditionError struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect"`
}

// Checkout creates a pending order from the session's cart.
func (h *Handler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	order, err := h.svc.Checkout(ctx, auth.Subject(ctx))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCart):
			return c.JSON(http.StatusConflict, preconditionError{Error: err.Error(), Redirect: "/cart"})
		case errors.Is(err, ErrUnfulfilledPrescription):
			return c.JSON(http.StatusConflict, preconditionError{Error: err.Error(), Redirect: "/prescriptions"})
		case errors.Is(err, ErrNoMachineSelected):
			return c.JSON(http.StatusConflict, preconditionError{Error: err.Error(), Redirect: "/machines"})
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, order)
}

// ConfirmPayment releases a paid order for pickup.
func (h *Handler) ConfirmPayment(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}

	order, err := h.svc.ConfirmPayment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, order)
}
