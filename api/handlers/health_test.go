package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// mockHealthCheck 模拟健康检查
type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string {
	return m.name
}

func (m *mockHealthCheck) Check(ctx context.Context) error {
	return m.err
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)

	handler.HandleHealth(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	err := json.NewDecoder(w.Body).Decode(&status)
	require.NoError(t, err)

	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantHealth string
	}{
		{
			name:       "no checks registered",
			checks:     nil,
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "all checks pass",
			checks: []HealthCheck{
				&mockHealthCheck{name: "store"},
				&mockHealthCheck{name: "scheduler"},
			},
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "one check fails",
			checks: []HealthCheck{
				&mockHealthCheck{name: "store", err: errors.New("connection refused")},
				&mockHealthCheck{name: "scheduler"},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				handler.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/ready", nil)

			handler.HandleReady(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)

			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantHealth, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}
}

func TestHealthHandler_HandleReadyReportsFailure(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	handler.RegisterCheck(&mockHealthCheck{name: "store", err: errors.New("redis: connection refused")})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)

	handler.HandleReady(w, r)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))

	result, ok := status.Checks["store"]
	require.True(t, ok)
	assert.Equal(t, "fail", result.Status)
	assert.Contains(t, result.Message, "connection refused")
	assert.NotEmpty(t, result.Latency)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/version", nil)

	handler.HandleVersion("1.2.3", "2026-01-01T00:00:00Z", "abc1234")(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", data["version"])
	assert.Equal(t, "abc1234", data["git_commit"])
}

func TestStoreHealthCheck(t *testing.T) {
	sentinel := errors.New("store offline")
	check := NewStoreHealthCheck("snapshot-store", func(ctx context.Context) error {
		return sentinel
	})

	assert.Equal(t, "snapshot-store", check.Name())
	assert.ErrorIs(t, check.Check(context.Background()), sentinel)
}
