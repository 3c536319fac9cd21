package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 2, time.Minute)

	tests := []struct {
		key  string
		want bool
	}{
		{"a", true},
		{"a", true},
		{"a", false},
		{"b", true},
	}
	for i, tt := range tests {
		if got := l.Allow(tt.key); got != tt.want {
			t.Errorf("call %d Allow(%q) = %v, want %v", i, tt.key, got, tt.want)
		}
	}
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	l.Allow("old")

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Allow("fresh")
	l.sweep()

	if n := l.size(); n != 1 {
		t.Fatalf("size after sweep = %d, want 1", n)
	}
	// 桶被回收后重新获得令牌
	if !l.Allow("old") {
		t.Error("Allow(old) after sweep = false, want true")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	r := gin.New()
	r.GET("/ping", RateLimit(l), func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 429]", codes)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		env     string
		origins []string
		origin  string
		want    string
	}{
		{"dev allows any", "dev", nil, "http://evil.example", "http://evil.example"},
		{"prod allows listed", "prod", []string{"https://app.example"}, "https://app.example", "https://app.example"},
		{"prod rejects unlisted", "prod", []string{"https://app.example"}, "https://other.example", ""},
		{"prod without list rejects", "prod", nil, "https://app.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.env, tt.origins))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}
