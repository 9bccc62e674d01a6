package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/")

	var seen string
	err := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return okHandler(c)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, "my-custom-id")

	_ = RequestID()(okHandler)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"ok", okHandler, "info", 200},
		{"not found", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound) }, "warn", 404},
		{"plain error", func(echo.Context) error { return errors.New("boom") }, "error", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c, _ := newTestContext(http.MethodGet, "/api/v1/alerts")
			c.Set("request_id", "req-1")

			_ = Logger(zerolog.New(&buf))(tt.handler)(c)

			var line map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("invalid log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.level {
				t.Errorf("expected level %s, got %v", tt.level, line["level"])
			}
			if line["status"] != tt.status {
				t.Errorf("expected status %v, got %v", tt.status, line["status"])
			}
			if line["request_id"] != "req-1" {
				t.Errorf("expected request_id req-1, got %v", line["request_id"])
			}
		})
	}
}

func TestLogger_SkipsProbePaths(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodGet, "/health")

	if err := Logger(zerolog.New(&buf), "/health")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log line, got %q", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodGet, "/panic")

	err := Recovery(zerolog.New(&buf))(func(echo.Context) error {
		panic("test panic")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/ok")
	if err := Recovery(zerolog.Nop())(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/v1/patients")

	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected context to have a deadline")
		}
		return okHandler(c)
	}
	if err := RequestTimeout(5 * time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/v1/patients")

	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	}
	if err := RequestTimeout(50 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", rec.Code)
	}
}

func TestRequestTimeout_SkipsPrefixes(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/ws")

	called := false
	handler := func(c echo.Context) error {
		called = true
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline for skipped path")
		}
		return okHandler(c)
	}
	if err := RequestTimeout(50*time.Millisecond, "/ws")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/api/v1/patients/123/risk")

	err := RequestTimeout(5 * time.Second)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}

func TestSecurityHeaders_SetsHeaders(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/api/v1/alerts")
	if err := SecurityHeaders()(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}
}

type limitedCall struct {
	method string
	route  string
	id     string
	want   int
}

func TestRateLimit_Routes(t *testing.T) {
	const (
		trigger = "/api/v1/patients/:id/risk/trigger"
		sweep   = "/api/v1/risk/sweeps"
		other   = "/api/v1/alerts/:id/resolve"
	)
	post := func(route, id string, want int) limitedCall {
		return limitedCall{method: http.MethodPost, route: route, id: id, want: want}
	}

	tests := []struct {
		name  string
		calls []limitedCall
	}{
		{
			name:  "trigger burst per patient",
			calls: []limitedCall{post(trigger, "a", 200), post(trigger, "a", 200), post(trigger, "a", 429)},
		},
		{
			name:  "patients have separate buckets",
			calls: []limitedCall{post(trigger, "a", 200), post(trigger, "a", 200), post(trigger, "a", 429), post(trigger, "b", 200)},
		},
		{
			name:  "patient id is case-insensitive",
			calls: []limitedCall{post(trigger, "ABC", 200), post(trigger, "abc", 200), post(trigger, "Abc", 429)},
		},
		{
			name:  "sweeps share one bucket",
			calls: []limitedCall{post(sweep, "", 200), post(sweep, "", 429)},
		},
		{
			name:  "sweeps do not consume trigger budget",
			calls: []limitedCall{post(sweep, "", 200), post(sweep, "", 429), post(trigger, "a", 200), post(trigger, "a", 200)},
		},
		{
			name: "reads pass",
			calls: []limitedCall{
				{method: http.MethodGet, route: trigger, id: "a", want: 200},
				{method: http.MethodGet, route: trigger, id: "a", want: 200},
				{method: http.MethodGet, route: trigger, id: "a", want: 200},
			},
		},
		{
			name:  "other routes pass",
			calls: []limitedCall{post(other, "x", 200), post(other, "x", 200), post(other, "x", 200)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			h := RateLimit(RateLimitConfig{
				TriggerInterval: time.Hour,
				TriggerBurst:    2,
				SweepInterval:   time.Hour,
				SweepBurst:      1,
			})(okHandler)

			for i, call := range tt.calls {
				rec := httptest.NewRecorder()
				c := e.NewContext(httptest.NewRequest(call.method, "/", nil), rec)
				c.SetPath(call.route)
				if call.id != "" {
					c.SetParamNames("id")
					c.SetParamValues(call.id)
				}

				err := h(c)
				got := http.StatusOK
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					got = httpErr.Code
				} else if err != nil {
					t.Fatalf("call %d: unexpected error %v", i+1, err)
				}
				if got != call.want {
					t.Fatalf("call %d %s %s(%s): expected %d, got %d", i+1, call.method, call.route, call.id, call.want, got)
				}
				if got == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "3600" {
					t.Errorf("call %d: expected Retry-After 3600, got %q", i+1, rec.Header().Get("Retry-After"))
				}
			}
		})
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.TriggerBurst < 1 || cfg.SweepBurst < 1 {
		t.Fatalf("bursts must allow at least one request: %+v", cfg)
	}
	if cfg.TriggerInterval <= 0 || cfg.SweepInterval < cfg.TriggerInterval {
		t.Errorf("sweeps should be limited at least as tightly as triggers: %+v", cfg)
	}
}
