package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/orders"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("got %+v, want default limit and zero offset", p)
	}
}

func TestFromContext_Explicit(t *testing.T) {
	p := paramsFor(t, "?limit=5&offset=10")
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("got %+v, want limit 5 offset 10", p)
	}
}

func TestFromContext_ClampsLimit(t *testing.T) {
	p := paramsFor(t, "?limit=5000")
	if p.Limit != MaxLimit {
		t.Errorf("limit = %d, want %d", p.Limit, MaxLimit)
	}
}

func TestFromContext_IgnoresNegative(t *testing.T) {
	p := paramsFor(t, "?limit=-1&offset=-5")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("got %+v, want defaults", p)
	}
}

func TestParams_Slice(t *testing.T) {
	tests := []struct {
		name       string
		p          Params
		n          int
		start, end int
	}{
		{"full page", Params{Limit: 10, Offset: 0}, 25, 0, 10},
		{"last partial page", Params{Limit: 10, Offset: 20}, 25, 20, 25},
		{"offset past end", Params{Limit: 10, Offset: 50}, 25, 25, 25},
		{"empty slice", Params{Limit: 10, Offset: 0}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.p.Slice(tt.n)
			if start != tt.start || end != tt.end {
				t.Errorf("Slice(%d) = (%d, %d), want (%d, %d)", tt.n, start, end, tt.start, tt.end)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2, 3}, 30, 3, 0)
	if !r.HasMore {
		t.Error("expected HasMore for a partial listing")
	}
	r = NewResponse([]int{1}, 1, 20, 0)
	if r.HasMore {
		t.Error("single full page should not report more")
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	if !p.HasPrevious() || p.PreviousOffset() != 0 {
		t.Errorf("previous navigation wrong: %+v", p)
	}
	if !p.HasNext(30) || p.NextOffset() != 20 {
		t.Errorf("next navigation wrong: %+v", p)
	}
	if p.HasNext(20) {
		t.Error("no next page expected at the end")
	}

	first := Params{Limit: 10, Offset: 5}
	if first.PreviousOffset() != 0 {
		t.Errorf("previous offset should clamp to 0, got %d", first.PreviousOffset())
	}
	if got := p.SQL(); got != "LIMIT 10 OFFSET 10" {
		t.Errorf("SQL() = %q", got)
	}
}
