package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/pkg/logging"
)

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name      string
		serverKey string
		header    string
		query     string
		wantCode  int
	}{
		{"valid header", "secretkey", "secretkey", "", http.StatusOK},
		{"valid query param", "secretkey", "", "secretkey", http.StatusOK},
		{"header takes precedence", "secretkey", "secretkey", "wrong", http.StatusOK},
		{"missing key", "secretkey", "", "", http.StatusUnauthorized},
		{"same length wrong key", "secretkey", "wrongkeys", "", http.StatusUnauthorized},
		{"shorter client key", "secretkey", "short", "", http.StatusUnauthorized},
		{"longer client key", "secret", "longersecretkey", "", http.StatusUnauthorized},
		{"auth disabled", "", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(APIKeyAuth(tt.serverKey))
			router.GET("/protected", func(c *gin.Context) {
				c.String(http.StatusOK, "success")
			})

			path := "/protected"
			if tt.query != "" {
				path += "?api_key=" + tt.query
			}
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", path, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			router.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if w.Code == http.StatusUnauthorized && !strings.Contains(w.Body.String(), "UNAUTHORIZED") {
				t.Errorf("expected UNAUTHORIZED code, got %s", w.Body.String())
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "text")

	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		logger.WithContext(c.Request.Context()).Info("handled")
		c.String(http.StatusOK, logging.RequestID(c.Request.Context()))
	})

	t.Run("propagates caller ID", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.Header.Set(RequestIDHeader, "req-7")
		router.ServeHTTP(w, req)

		if w.Body.String() != "req-7" || w.Header().Get(RequestIDHeader) != "req-7" {
			t.Errorf("body = %q header = %q, want req-7", w.Body.String(), w.Header().Get(RequestIDHeader))
		}
		if !strings.Contains(buf.String(), "requestID=req-7") {
			t.Errorf("log line missing request ID: %q", buf.String())
		}
	})

	t.Run("assigns ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)

		id := w.Header().Get(RequestIDHeader)
		if id == "" || w.Body.String() != id {
			t.Errorf("body = %q header = %q", w.Body.String(), id)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	router := gin.New()
	router.Use(RequestLogger(logging.NewWithWriter(&buf, "info", "text")))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, path := range []string{"/ok", "/fail"} {
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "path=/ok") {
		t.Errorf("missing info line for /ok: %q", out)
	}
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "status=502") {
		t.Errorf("missing error line for /fail: %q", out)
	}
}

func TestRequestMetrics(t *testing.T) {
	m := metrics.NewCollector()
	router := gin.New()
	router.Use(RequestMetrics(m))
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/items/1", "/items/2", "/nowhere"} {
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.CollectAndCount(m.HTTPRequestDuration); got != 2 {
		t.Errorf("series = %d, want 2 (route template and unmatched)", got)
	}

	router = gin.New()
	router.Use(RequestMetrics(nil))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/x", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("nil collector: expected status %d, got %d", http.StatusOK, w.Code)
	}
}
