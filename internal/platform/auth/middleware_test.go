package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func runMiddleware(t *testing.T, cfg Config, authHeader string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	err := Middleware(cfg)(handler)(c)
	return c, err
}

func TestMiddleware_NoHeaderUsesDefaultSession(t *testing.T) {
	c, err := runMiddleware(t, Config{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Get("session"); got != DefaultSession {
		t.Errorf("expected session %q, got %v", DefaultSession, got)
	}
	if got := Subject(c.Request().Context()); got != DefaultSession {
		t.Errorf("expected subject %q, got %q", DefaultSession, got)
	}
}

func TestMiddleware_NoHeaderRejectedWhenRequired(t *testing.T) {
	_, err := runMiddleware(t, Config{Required: true}, "")
	if err == nil {
		t.Fatal("expected error for missing header")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestMiddleware_InvalidFormat(t *testing.T) {
	_, err := runMiddleware(t, Config{}, "Basic abc123")
	if err == nil {
		t.Fatal("expected error for non-bearer header")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestMiddleware_UnverifiedSubjectExtraction(t *testing.T) {
	token := signToken(t, "whatever", "patient-42")
	c, err := runMiddleware(t, Config{}, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := Subject(c.Request().Context()); got != "patient-42" {
		t.Errorf("expected subject patient-42, got %q", got)
	}
	if got := Token(c.Request().Context()); got != token {
		t.Errorf("expected raw token on context, got %q", got)
	}
}

func TestMiddleware_VerifiedSignature(t *testing.T) {
	token := signToken(t, "s3cret", "patient-7")
	c, err := runMiddleware(t, Config{Secret: "s3cret"}, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := Subject(c.Request().Context()); got != "patient-7" {
		t.Errorf("expected subject patient-7, got %q", got)
	}
}

func TestMiddleware_RejectsBadSignature(t *testing.T) {
	token := signToken(t, "wrong-secret", "patient-7")
	_, err := runMiddleware(t, Config{Secret: "s3cret"}, "Bearer "+token)
	if err == nil {
		t.Fatal("expected error for bad signature")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestSubject_EmptyContext(t *testing.T) {
	if got := Subject(context.Background()); got != DefaultSession {
		t.Errorf("expected %q for empty context, got %q", DefaultSession, got)
	}
}

func TestToken_EmptyContext(t *testing.T) {
	if got := Token(context.Background()); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}
