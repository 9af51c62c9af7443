package order

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pharmamat/pharmamat/internal/platform/auth"
	"github.com/pharmamat/pharmamat/internal/platform/backend"
	"github.com/pharmamat/pharmamat/pkg/pagination"
)

type Handler struct {
	svc     *Service
	tracker *Tracker
}

func NewHandler(svc *Service, tracker *Tracker) *Handler {
	return &Handler{svc: svc, tracker: tracker}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.GET("/orders/:id/qr", h.GetPickupQR)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/track", h.TrackOrder)
	api.DELETE("/orders/:id/track", h.UntrackOrder)
}

func orderID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return id, nil
}

// ListOrders returns the patient's orders, paginated. The optional status
// query parameter partitions the list: "active" keeps open orders,
// "completed" keeps finished ones.
func (h *Handler) ListOrders(c echo.Context) error {
	orders, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	switch c.QueryParam("status") {
	case "":
	case "active":
		orders = filterOrders(orders, func(status string) bool { return !IsTerminal(status) })
	case "completed":
		orders = filterOrders(orders, IsTerminal)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be \"active\" or \"completed\"")
	}

	p := pagination.FromContext(c)
	start, end := p.Slice(len(orders))
	return c.JSON(http.StatusOK, pagination.NewResponse(orders[start:end], len(orders), p.Limit, p.Offset))
}

func filterOrders(orders []backend.Order, keep func(status string) bool) []backend.Order {
	out := orders[:0]
	for _, o := range orders {
		if keep(o.Status) {
			out = append(out, o)
		}
	}
	return out
}

// GetOrder returns one order.
func (h *Handler) GetOrder(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, o)
}

// GetPickupQR streams the order's pickup code as a PNG.
func (h *Handler) GetPickupQR(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	png, err := h.svc.PickupQR(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		case errors.Is(err, ErrNoAccessToken):
			return echo.NewHTTPError(http.StatusConflict, "order has no pickup code yet")
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// CancelOrder cancels an order. Repeating the call on an already cancelled
// order succeeds.
func (h *Handler) CancelOrder(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		case errors.Is(err, ErrAlreadyCompleted):
			return echo.NewHTTPError(http.StatusConflict, "completed orders cannot be cancelled")
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	h.tracker.Stop(id)
	return c.JSON(http.StatusOK, o)
}

// TrackOrder starts live status polling for an order.
func (h *Handler) TrackOrder(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	// Validate the order exists before spinning up a poller for it.
	if _, err := h.svc.Get(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	// The poller must outlive this request, but it still fetches on the
	// caller's behalf, so their bearer token travels with the detached
	// context.
	ctx := auth.WithToken(context.Background(), auth.Token(c.Request().Context()))
	h.tracker.Track(ctx, id)
	return c.NoContent(http.StatusAccepted)
}

// UntrackOrder stops live status polling for an order.
func (h *Handler) UntrackOrder(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	h.tracker.Stop(id)
	return c.NoContent(http.StatusNoContent)
}
