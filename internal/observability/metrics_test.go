package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mtsession/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("sessionctl", "GET", "/health", 200, 12*time.Millisecond)
	RecordRPC(2, "help.GetConfig", "ok", 40*time.Millisecond)
	RecordRetry(2, "help.GetConfig")
	RecordFloodWait(2, "help.GetConfig", 3*time.Second)
	RecordRestart(2)
	RecordSecurityRejection(2)
	RecordSaltRotation(2)
	RecordAcks(2, 10)
	SetPending(2, 1)
	SetSessionState(2, 2)
	RecordUpdate("updateShort", true)
}

func serve(t *testing.T, a *Admin, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	ready := false
	restarts := 0
	a := NewAdmin(AdminConfig{Name: "test"}, AdminHooks{
		Status: func() any { return map[string]any{"state": "running", "dc_id": 2} },
		Ready:  func() bool { return ready },
		Restart: func(context.Context) error {
			restarts++
			if restarts > 1 {
				return errors.New("restart refused")
			}
			return nil
		},
	})

	if w := serve(t, a, http.MethodGet, "/health"); w.Code != http.StatusOK {
		t.Fatalf("health status=%d", w.Code)
	}
	if w := serve(t, a, http.MethodGet, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before start status=%d", w.Code)
	}
	ready = true
	if w := serve(t, a, http.MethodGet, "/ready"); w.Code != http.StatusOK {
		t.Fatalf("ready status=%d", w.Code)
	}

	w := serve(t, a, http.MethodGet, "/session")
	if w.Code != http.StatusOK {
		t.Fatalf("session status=%d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if body["state"] != "running" {
		t.Fatalf("unexpected session body %v", body)
	}

	if w := serve(t, a, http.MethodPost, "/session/restart"); w.Code != http.StatusOK {
		t.Fatalf("restart status=%d", w.Code)
	}
	if w := serve(t, a, http.MethodPost, "/session/restart"); w.Code != http.StatusInternalServerError {
		t.Fatalf("failed restart status=%d", w.Code)
	}

	RecordRPC(2, "Ping", "ok", time.Millisecond)
	w = serve(t, a, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "mtsession_rpc_requests_total") {
		t.Fatalf("metrics status=%d missing rpc counter", w.Code)
	}
}

func TestAdminWithoutSession(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin(AdminConfig{}, AdminHooks{})
	if w := serve(t, a, http.MethodGet, "/session"); w.Code != http.StatusNotFound {
		t.Fatalf("session status=%d", w.Code)
	}
	if w := serve(t, a, http.MethodPost, "/session/restart"); w.Code != http.StatusNotFound {
		t.Fatalf("restart route should be absent, status=%d", w.Code)
	}
}

func TestAdminRestartRequiresToken(t *testing.T) {
	testlog.Start(t)
	a := NewAdmin(AdminConfig{Token: "s3cret"}, AdminHooks{
		Restart: func(context.Context) error { return nil },
	})
	if w := serve(t, a, http.MethodPost, "/session/restart"); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated restart status=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/session/restart", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated restart status=%d", w.Code)
	}
}
