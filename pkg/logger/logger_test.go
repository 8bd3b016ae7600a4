package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWriter(&buf, "production")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/ping", func(c *gin.Context) {
		if FromGin(c) != From(c.Request.Context()) {
			t.Error("gin and request loggers differ")
		}
		c.Set("user_id", "op-1")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "rid-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "rid-42" {
		t.Fatalf("request id not echoed: %q", got)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not json: %v (%s)", err, buf.String())
	}
	if line["request_id"] != "rid-42" || line["user_id"] != "op-1" || line["path"] != "/ping" || line["service"] != "collections-orchestrator" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewWriter(&bytes.Buffer{}, "local")))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatal("expected default logger")
	}
}

func TestEnrich_ScopesHandlerLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWriter(&buf, "production")))
	r.GET("/", func(c *gin.Context) {
		Enrich(c, "role", "supervisor")
		if FromGin(c) != From(c.Request.Context()) {
			t.Error("gin and request loggers differ after enrich")
		}
		From(c.Request.Context()).Info("handled")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "rid-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	first, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	var line map[string]any
	if err := json.Unmarshal(first, &line); err != nil {
		t.Fatalf("log line not json: %v (%s)", err, buf.String())
	}
	if line["msg"] != "handled" || line["role"] != "supervisor" || line["request_id"] != "rid-7" {
		t.Fatalf("unexpected log line %v", line)
	}
}
