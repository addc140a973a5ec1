package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest("GET", "/?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=0", DefaultLimit, 0},
		{"limit=-3&offset=-7", DefaultLimit, 0},
		{"limit=5000", MaxLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		got := paramsFor(tt.query)
		if got.Limit != tt.limit || got.Offset != tt.offset {
			t.Errorf("%q: got %+v, want limit=%d offset=%d", tt.query, got, tt.limit, tt.offset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if !NewResponse(nil, 50, 20, 0).HasMore {
		t.Error("50 total, first page of 20: want more")
	}
	if NewResponse(nil, 50, 20, 40).HasMore {
		t.Error("50 total, offset 40 limit 20: want no more")
	}
	if NewResponse(nil, 0, 20, 0).HasMore {
		t.Error("empty result: want no more")
	}
}
