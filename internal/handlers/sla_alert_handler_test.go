package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"sla-monitor/internal/services"
)

func newConfigRouter(t *testing.T) (*gin.Engine, *services.ConfigStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := services.NewConfigStore(context.Background(), nil)
	handler := NewSLAAlertHandler(nil, nil, store, nil, nil, nil)

	router := gin.New()
	router.GET("/api/v1/sla-alerts/config", handler.GetConfig)
	router.PUT("/api/v1/sla-alerts/config", handler.UpdateConfig)
	return router, store
}

func TestGetConfig(t *testing.T) {
	router, _ := newConfigRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sla-alerts/config", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Code int `json:"code"`
		Data struct {
			Enabled        bool  `json:"enabled"`
			ScanIntervalMs int64 `json:"scan_interval_ms"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !body.Data.Enabled || body.Data.ScanIntervalMs != 60_000 {
		t.Errorf("unexpected config payload: %+v", body.Data)
	}
}

func TestUpdateConfigRejectsBadThresholds(t *testing.T) {
	router, store := newConfigRouter(t)
	before := store.Get()

	payload := `{"risk_thresholds": {"medium": 0.9, "high": 0.5, "critical": 0.95}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sla-alerts/config", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if store.Get() != before {
		t.Error("rejected update still changed the active config")
	}
}

func TestSendTestAlertValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewSLAAlertHandler(nil, nil, services.NewConfigStore(context.Background(), nil), nil, nil, nil)
	router := gin.New()
	router.POST("/api/v1/sla-alerts/test", handler.Test)

	cases := []struct {
		name    string
		payload string
		wantMsg string
	}{
		{"missing recipient", `{}`, ""},
		{"bad recipient", `{"recipient_id": "not-a-uuid"}`, "invalid recipient_id"},
		{"bad ticket", `{"recipient_id": "b3c1f1a4-9c21-4de0-8f05-0d8f4a3a2b10", "ticket_id": "nope"}`, "invalid ticket_id"},
		{"bad type", `{"recipient_id": "b3c1f1a4-9c21-4de0-8f05-0d8f4a3a2b10", "type": "meltdown"}`, "invalid type"},
		{"bad priority", `{"recipient_id": "b3c1f1a4-9c21-4de0-8f05-0d8f4a3a2b10", "priority": "urgent"}`, "invalid priority"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sla-alerts/test", strings.NewReader(tc.payload))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if tc.wantMsg != "" && !strings.Contains(w.Body.String(), tc.wantMsg) {
				t.Errorf("body = %s, want message %q", w.Body.String(), tc.wantMsg)
			}
		})
	}
}

func TestUpdateConfigApplied(t *testing.T) {
	router, store := newConfigRouter(t)

	payload := `{"scan_interval_ms": 15000, "enabled": false}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sla-alerts/config", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	got := store.Get()
	if got.ScanIntervalMs != 15_000 || got.Enabled {
		t.Errorf("config after update = %+v, want interval 15000 and disabled", got)
	}
}
