// shared/pkg/middleware/middleware_test.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		counter  *fakeCounter
		requests int
		want     int
	}{
		{name: "Under limit", counter: &fakeCounter{counts: map[string]int64{}}, requests: 2, want: http.StatusOK},
		{name: "Over limit", counter: &fakeCounter{counts: map[string]int64{}}, requests: 3, want: http.StatusTooManyRequests},
		{name: "Store down fails open", counter: &fakeCounter{err: errors.New("down")}, requests: 5, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RateLimit(tt.counter, 2, time.Minute, zap.NewNop()))
			r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			var last int
			for i := 0; i < tt.requests; i++ {
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
				last = w.Code
			}
			if last != tt.want {
				t.Errorf("status = %d, want %d", last, tt.want)
			}
		})
	}
}

func TestAuth(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")
	admin, err := verifier.Sign(Claims{UserID: "admin-1", Role: RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	user, _ := verifier.Sign(Claims{UserID: "u1", Role: "user"}, time.Hour)
	expired, _ := verifier.Sign(Claims{UserID: "u1"}, -time.Hour)
	foreign, _ := NewTokenVerifier("other").Sign(Claims{UserID: "u1", Role: RoleAdmin}, time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "Admin", header: "Bearer " + admin, want: http.StatusOK},
		{name: "Wrong role", header: "Bearer " + user, want: http.StatusForbidden},
		{name: "Missing", header: "", want: http.StatusUnauthorized},
		{name: "Expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "Wrong key", header: "Bearer " + foreign, want: http.StatusUnauthorized},
	}

	r := gin.New()
	r.GET("/admin", Auth(verifier), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() != "req-123" || w.Header().Get(RequestIDHeader) != "req-123" {
		t.Errorf("request id = %q, want req-123", w.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
