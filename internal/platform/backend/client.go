// Package backend is the HTTP client for the pharmacy backend that owns the
// catalog, prescriptions, kiosk locations and orders. The client forwards the
// caller's bearer token on every request, so the backend sees the patient's
// own credentials rather than a service account.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pharmamat/pharmamat/internal/platform/auth"
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Code == http.StatusNotFound
}

// tokenTransport injects the caller's bearer token, read from the request
// context, into outgoing requests.
type tokenTransport struct {
	base http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if token := auth.Token(req.Context()); token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(req)
}

// Client talks to the pharmacy backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a backend client. timeout bounds each request; zero means 15s.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &tokenTransport{base: http.DefaultTransport},
		},
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

// do issues a request and decodes the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("backend request failed")
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) ListMedications(ctx context.Context) ([]Medication, error) {
	var meds []Medication
	if err := c.do(ctx, http.MethodGet, "/medications", nil, &meds); err != nil {
		return nil, err
	}
	return meds, nil
}

func (c *Client) GetMedication(ctx context.Context, id int64) (*Medication, error) {
	var med Medication
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/medications/%d", id), nil, &med); err != nil {
		return nil, err
	}
	return &med, nil
}

// ListPrescriptions returns the caller's prescriptions.
func (c *Client) ListPrescriptions(ctx context.Context) ([]Prescription, error) {
	var scripts []Prescription
	if err := c.do(ctx, http.MethodGet, "/prescriptions", nil, &scripts); err != nil {
		return nil, err
	}
	return scripts, nil
}

func (c *Client) GetPrescription(ctx context.Context, id int64) (*Prescription, error) {
	var script Prescription
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/prescriptions/%d", id), nil, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	var locs []Location
	if err := c.do(ctx, http.MethodGet, "/locations", nil, &locs); err != nil {
		return nil, err
	}
	return locs, nil
}

func (c *Client) GetLocation(ctx context.Context, id int64) (*Location, error) {
	var loc Location
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/locations/%d", id), nil, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// ListOrders returns the caller's orders, newest first.
func (c *Client) ListOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%d", id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status string) (*Order, error) {
	var order Order
	req := UpdateOrderStatusRequest{Status: status}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/orders/%d", id), req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
