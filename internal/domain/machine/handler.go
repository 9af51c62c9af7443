package machine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pharmamat/pharmamat/internal/platform/auth"
	"github.com/pharmamat/pharmamat/internal/platform/geo"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/machines", h.ListMachines)
	api.GET("/machines/selected", h.GetSelected)
	api.GET("/machines/:id", h.GetMachine)
	api.PUT("/machines/selected", h.SelectMachine)
	api.DELETE("/machines/selected", h.ClearSelection)
	api.POST("/machines/nearest", h.SelectNearest)
}

// ListMachines returns active kiosks. Optional lat/lon query parameters sort
// the list by distance from the patient.
func (h *Handler) ListMachines(c echo.Context) error {
	origin, err := originFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	machines, err := h.svc.List(c.Request().Context(), origin)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, machines)
}

// GetMachine returns one active kiosk.
func (h *Handler) GetMachine(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid machine id")
	}

	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "machine not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

type selectMachineRequest struct {
	MachineID int64 `json:"machine_id"`
}

// SelectMachine pins a kiosk for the session's upcoming checkout.
func (h *Handler) SelectMachine(c echo.Context) error {
	var req selectMachineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MachineID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "machine_id is required")
	}

	ctx := c.Request().Context()
	m, err := h.svc.Select(ctx, auth.Subject(ctx), req.MachineID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "machine not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

type selectNearestRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SelectNearest pins the active kiosk closest to the given position.
func (h *Handler) SelectNearest(c echo.Context) error {
	var req selectNearestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	origin := geo.Coordinates{Latitude: req.Latitude, Longitude: req.Longitude}
	m, err := h.svc.SelectNearest(ctx, auth.Subject(ctx), origin)
	if err != nil {
		if errors.Is(err, ErrNoActiveMachines) {
			return echo.NewHTTPError(http.StatusNotFound, "no active machines available")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

// GetSelected returns the session's pinned kiosk or 404 when none is set.
func (h *Handler) GetSelected(c echo.Context) error {
	m, ok := h.svc.Selected(auth.Subject(c.Request().Context()))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no machine selected")
	}
	return c.JSON(http.StatusOK, m)
}

// ClearSelection drops the session's pinned kiosk.
func (h *Handler) ClearSelection(c echo.Context) error {
	h.svc.ClearSelection(auth.Subject(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}

func originFromQuery(c echo.Context) (*geo.Coordinates, error) {
	latStr, lonStr := c.QueryParam("lat"), c.QueryParam("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, errors.New("invalid lat parameter")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, errors.New("invalid lon parameter")
	}
	return &geo.Coordinates{Latitude: lat, Longitude: lon}, nil
}
