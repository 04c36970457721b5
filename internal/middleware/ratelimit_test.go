package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func hit(t *testing.T, h http.Handler, remoteAddr string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(5)
	defer rl.Stop()

	var calls int
	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		if code := hit(t, h, "10.0.0.1:4000"); code != http.StatusOK {
			t.Fatalf("request %d code = %d, want 200", i+1, code)
		}
	}
	if calls != 5 {
		t.Errorf("handler calls = %d, want 5", calls)
	}
}

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Stop()

	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		if code := hit(t, h, "10.0.0.1:4000"); code != http.StatusOK {
			t.Fatalf("request %d code = %d, want 200", i+1, code)
		}
	}
	if code := hit(t, h, "10.0.0.1:4000"); code != http.StatusTooManyRequests {
		t.Errorf("over-limit code = %d, want 429", code)
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	h := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if code := hit(t, h, "10.0.0.1:4000"); code != http.StatusOK {
		t.Fatalf("first client code = %d, want 200", code)
	}
	if code := hit(t, h, "10.0.0.1:5000"); code != http.StatusTooManyRequests {
		t.Errorf("same IP on another port code = %d, want 429", code)
	}
	if code := hit(t, h, "10.0.0.2:4000"); code != http.StatusOK {
		t.Errorf("second client code = %d, want 200", code)
	}
}

func TestRateLimiter_WrapFunc(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Stop()

	h := rl.WrapFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("code = %d, want 204", rec.Code)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"10.0.0.1:4000", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientKey(req); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Stop()
	rl.Stop()
}
