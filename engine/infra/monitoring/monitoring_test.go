package monitoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitoringService(t *testing.T) {
	t.Run("Should create disabled service when nil config provided", func(t *testing.T) {
		service, err := NewMonitoringService(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, service.IsInitialized())
		assert.Nil(t, service.Metrics())
		assert.Equal(t, "/metrics", service.config.Path)
	})
	t.Run("Should fail with invalid path", func(t *testing.T) {
		_, err := NewMonitoringService(context.Background(), &Config{Enabled: true, Path: ""})
		assert.ErrorContains(t, err, "monitoring path cannot be empty")
	})
	t.Run("Should fail with invalid address", func(t *testing.T) {
		_, err := NewMonitoringService(context.Background(), &Config{Enabled: true, Path: "/metrics", Addr: "nope"})
		assert.ErrorContains(t, err, "invalid monitoring address")
	})
	t.Run("Should register tracker metrics when enabled", func(t *testing.T) {
		service, err := NewMonitoringService(context.Background(), FromAddr("127.0.0.1:0"))
		require.NoError(t, err)
		assert.True(t, service.IsInitialized())
		assert.NotNil(t, service.Metrics())
	})
}

func TestMonitoringService_ExporterHandler(t *testing.T) {
	t.Run("Should return 503 when not initialized", func(t *testing.T) {
		service, err := NewMonitoringService(context.Background(), DefaultConfig())
		require.NoError(t, err)
		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "Monitoring service not initialized")
	})
	t.Run("Should return metrics when initialized", func(t *testing.T) {
		service, err := NewMonitoringService(context.Background(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		service.ExporterHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})
}

func TestMonitoringService_Start(t *testing.T) {
	t.Run("Should serve the exporter on the configured address", func(t *testing.T) {
		ctx := context.Background()
		service, err := NewMonitoringService(ctx, FromAddr("127.0.0.1:0"))
		require.NoError(t, err)
		require.NoError(t, service.Start(ctx))
		defer service.Shutdown(ctx)
		resp, err := http.Get("http://" + service.Addr() + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "process_")
	})
	t.Run("Should do nothing when disabled", func(t *testing.T) {
		service, err := NewMonitoringService(context.Background(), FromAddr(""))
		require.NoError(t, err)
		require.NoError(t, service.Start(context.Background()))
		assert.Empty(t, service.Addr())
		assert.NoError(t, service.Shutdown(context.Background()))
	})
}

func TestNewMonitoringServiceWithFallback(t *testing.T) {
	t.Run("Should return degraded service when config is invalid", func(t *testing.T) {
		service := NewMonitoringServiceWithFallback(context.Background(), &Config{Enabled: true, Path: "invalid-path"})
		assert.NotNil(t, service)
		assert.False(t, service.IsInitialized())
	})
}
