package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/platform/auth"
	"github.com/pharmamat/pharmamat/internal/platform/backend"
)

func newTestServer(t *testing.T, mock *mockBackend) (*echo.Echo, *Tracker) {
	t.Helper()
	svc := NewService(mock, zerolog.Nop())
	tracker := NewTracker(mock, testInterval, TrackerCallbacks{}, zerolog.Nop())
	t.Cleanup(tracker.StopAll)

	e := echo.New()
	NewHandler(svc, tracker).RegisterRoutes(e.Group("/api"))
	return e, tracker
}

func do(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ListOrders_Paginated(t *testing.T) {
	mock := &mockBackend{orders: map[int64]*backend.Order{
		1: {ID: 1, Status: backend.StatusPending},
		2: {ID: 2, Status: backend.StatusCompleted},
	}}
	e, _ := newTestServer(t, mock)

	rec := do(e, http.MethodGet, "/api/orders?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Data    []backend.Order `json:"data"`
		Total   int             `json:"total"`
		HasMore bool            `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("unexpected page: %+v", resp)
	}
}

func TestHandler_ListOrders_StatusFilter(t *testing.T) {
	mock := &mockBackend{orders: map[int64]*backend.Order{
		1: {ID: 1, Status: backend.StatusPending},
		2: {ID: 2, Status: backend.StatusAvailable},
		3: {ID: 3, Status: backend.StatusCompleted},
		4: {ID: 4, Status: backend.StatusCancelled},
	}}
	e, _ := newTestServer(t, mock)

	var resp struct {
		Total int `json:"total"`
	}

	rec := do(e, http.MethodGet, "/api/orders?status=active")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("active total = %d, want 2", resp.Total)
	}

	rec = do(e, http.MethodGet, "/api/orders?status=completed")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("completed total = %d, want 2", resp.Total)
	}

	if rec := do(e, http.MethodGet, "/api/orders?status=bogus"); rec.Code != http.StatusBadRequest {
		t.Errorf("bogus filter status = %d, want 400", rec.Code)
	}
}

func TestHandler_GetOrder(t *testing.T) {
	mock := &mockBackend{orders: map[int64]*backend.Order{
		1: {ID: 1, Status: backend.StatusPending},
	}}
	e, _ := newTestServer(t, mock)

	if rec := do(e, http.MethodGet, "/api/orders/1"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/orders/404"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/orders/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestHandler_GetPickupQR(t *testing.T) {
	mock := &mockBackend{orders: map[int64]*backend.Order{
		1: {ID: 1, Status: backend.StatusAvailable, AccessToken: "tok-1"},
		2: {ID: 2, Status: backend.StatusPending},
	}}
	e, _ := newTestServer(t, mock)

	rec := do(e, http.MethodGet, "/api/orders/1/qr")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}

	if rec := do(e, http.MethodGet, "/api/orders/2/qr"); rec.Code != http.StatusConflict {
		t.Errorf("tokenless order status = %d, want 409", rec.Code)
	}
}

func TestHandler_CancelOrder(t *testing.T) {
	mock := &mockBackend{orders: map[int64]*backend.Order{
		1: {ID: 1, Status: backend.StatusPending},
		2: {ID: 2, Status: backend.StatusCompleted},
	}}
	e, _ := newTestServer(t, mock)

	if rec := do(e, http.MethodPost, "/api/orders/1/cancel"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	// Idempotent.
	if rec := do(e, http.MethodPost, "/api/orders/1/cancel"); rec.Code != http.StatusOK {
		t.Errorf("repeat cancel status = %d, want 200", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/orders/2/cancel"); rec.Code != http.StatusConflict {
		t.Errorf("completed order status = %d, want 409", rec.Code)
	}
}

func TestHandler_TrackAndUntrack(t *testing.T) {
	mock := &mockBackend{
		orders:    map[int64]*backend.Order{1: {ID: 1}},
		statusSeq: []string{backend.StatusPending},
	}
	e, tracker := newTestServer(t, mock)

	if rec := do(e, http.MethodPost, "/api/orders/1/track"); rec.Code != http.StatusAccepted {
		t.Fatalf("track status = %d, want 202", rec.Code)
	}
	if !tracker.Tracking(1) {
		t.Error("order should be tracked")
	}

	if rec := do(e, http.MethodDelete, "/api/orders/1/track"); rec.Code != http.StatusNoContent {
		t.Fatalf("untrack status = %d, want 204", rec.Code)
	}
	if tracker.Tracking(1) {
		t.Error("order should no longer be tracked")
	}

	if rec := do(e, http.MethodPost, "/api/orders/404/track"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown order track status = %d, want 404", rec.Code)
	}
}

// The poller runs detached from the request, yet every fetch it issues must
// still carry the caller's bearer token.
func TestHandler_TrackOrder_ForwardsBearerToken(t *testing.T) {
	mock := &mockBackend{
		orders:    map[int64]*backend.Order{1: {ID: 1}},
		statusSeq: []string{backend.StatusPending},
	}
	svc := NewService(mock, zerolog.Nop())
	tracker := NewTracker(mock, testInterval, TrackerCallbacks{}, zerolog.Nop())
	t.Cleanup(tracker.StopAll)

	e := echo.New()
	h := NewHandler(svc, tracker)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/1/track", nil)
	req = req.WithContext(auth.WithToken(req.Context(), "patient-token"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/orders/:id/track")
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.TrackOrder(c); err != nil {
		t.Fatalf("TrackOrder: %v", err)
	}
	// Stop waits for the poller, which fetches once immediately.
	tracker.Stop(1)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.tokens) < 2 {
		t.Fatalf("expected the validation fetch plus at least one poll, got %d fetches", len(mock.tokens))
	}
	for i, tok := range mock.tokens {
		if tok != "patient-token" {
			t.Errorf("fetch %d carried token %q, want the caller's bearer token", i, tok)
		}
	}
}
