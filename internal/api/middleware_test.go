package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/larlab/bellcore/internal/infrastructure/config"
	"github.com/larlab/bellcore/internal/infrastructure/logging"
)

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name         string
		remoteAddr   string
		forwardedFor string
		trustedProxy string
		want         string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "no port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name:         "forwarded header ignored without trusted proxy",
			remoteAddr:   "203.0.113.7:51234",
			forwardedFor: "198.51.100.1",
			want:         "203.0.113.7",
		},
		{
			name:         "forwarded header ignored from untrusted address",
			remoteAddr:   "203.0.113.7:51234",
			forwardedFor: "198.51.100.1",
			trustedProxy: "10.0.0.1",
			want:         "203.0.113.7",
		},
		{
			name:         "forwarded header honoured from trusted proxy",
			remoteAddr:   "10.0.0.1:51234",
			forwardedFor: "198.51.100.1",
			trustedProxy: "10.0.0.1",
			want:         "198.51.100.1",
		},
		{
			name:         "only first forwarded entry used",
			remoteAddr:   "10.0.0.1:51234",
			forwardedFor: "198.51.100.1, 192.0.2.5",
			trustedProxy: "10.0.0.1",
			want:         "198.51.100.1",
		},
		{
			name:         "empty forwarded header falls back to proxy address",
			remoteAddr:   "10.0.0.1:51234",
			forwardedFor: "",
			trustedProxy: "10.0.0.1",
			want:         "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{cfg: config.APIConfig{TrustedProxy: tt.trustedProxy}}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}

			if got := s.clientAddr(req); got != tt.want {
				t.Errorf("clientAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s := &Server{logger: logging.Default()}

	handler := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler blew up")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	s := &Server{}

	var seen string
	handler := s.requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(ctxKeyRequestID).(string)
	}))

	t.Run("generated when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" {
			t.Error("no request id in context")
		}
		if rec.Header().Get("X-Request-ID") != seen {
			t.Error("response header does not match context value")
		}
	})

	t.Run("client value kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "client-supplied")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if seen != "client-supplied" {
			t.Errorf("request id = %q, want client-supplied", seen)
		}
	})
}
