package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-backend/health"
	"github.com/saiset-co/sai-backend/logger"
	"github.com/saiset-co/sai-backend/metrics"
	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

func startStatus(t *testing.T, metricsConfig *types.MetricsConfig, checkers map[string]types.HealthChecker) (*StatusServer, string) {
	t.Helper()

	log := logger.NewNop()
	m, err := metrics.NewManager(metricsConfig, log)
	require.NoError(t, err)

	hm := health.NewManager(types.ServiceInfo{Name: "sai-backend", Version: "1.2.3"}, time.Second, log)
	for name, checker := range checkers {
		hm.RegisterChecker(name, checker)
	}
	require.NoError(t, hm.Start())

	s := NewStatusServer(&types.StatusConfig{Host: "127.0.0.1", Port: 0}, hm, m, log)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	return s, "http://" + s.Addr()
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func healthy(context.Context) types.HealthCheck {
	return types.HealthCheck{Status: types.StatusHealthy}
}

func TestHealthEndpoint(t *testing.T) {
	_, base := startStatus(t, nil, map[string]types.HealthChecker{"store": healthy})

	status, body := get(t, base+HealthPath)
	assert.Equal(t, http.StatusOK, status)

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(body, &report))
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, "sai-backend", report.Service.Name)
	assert.Contains(t, report.Checks, "store")
}

func TestHealthEndpointReportsUnhealthy(t *testing.T) {
	_, base := startStatus(t, nil, map[string]types.HealthChecker{
		"store": func(context.Context) types.HealthCheck {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "not running"}
		},
	})

	status, body := get(t, base+HealthPath+"/")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "not running")
}

func TestVersionEndpoint(t *testing.T) {
	_, base := startStatus(t, nil, nil)

	status, body := get(t, base+VersionPath)
	require.Equal(t, http.StatusOK, status)

	var version types.VersionInfo
	require.NoError(t, utils.Unmarshal(body, &version))
	assert.Equal(t, "1.2.3", version.Version)
	assert.NotEmpty(t, version.BuildInfo)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("prometheus", func(t *testing.T) {
		_, base := startStatus(t, &types.MetricsConfig{Enabled: true, Type: "prometheus"}, nil)

		status, body := get(t, base+MetricsPath)
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("memory metrics have no endpoint", func(t *testing.T) {
		_, base := startStatus(t, nil, nil)

		status, _ := get(t, base+MetricsPath)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestUnknownRoute(t *testing.T) {
	_, base := startStatus(t, nil, nil)

	status, _ := get(t, base+"/admin")
	assert.Equal(t, http.StatusNotFound, status)

	resp, err := http.Post(base+HealthPath, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusServerLifecycle(t *testing.T) {
	log := logger.NewNop()
	hm := health.NewManager(types.ServiceInfo{}, time.Second, log)
	s := NewStatusServer(&types.StatusConfig{Host: "127.0.0.1"}, hm, metrics.NewMemoryMetrics(), log)

	assert.Empty(t, s.Addr())
	assert.ErrorIs(t, s.Stop(), types.ErrServerNotRunning)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(), types.ErrServerAlreadyRunning)

	status, _ := get(t, fmt.Sprintf("http://%s%s", s.Addr(), HealthPath))
	assert.Equal(t, http.StatusServiceUnavailable, status)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Empty(t, s.Addr())
}

func TestStartFailsOnBusyPort(t *testing.T) {
	first, _ := startStatus(t, nil, nil)

	log := logger.NewNop()
	hm := health.NewManager(types.ServiceInfo{}, time.Second, log)
	var port int
	_, err := fmt.Sscanf(first.Addr(), "127.0.0.1:%d", &port)
	require.NoError(t, err)

	second := NewStatusServer(&types.StatusConfig{Host: "127.0.0.1", Port: port}, hm, metrics.NewMemoryMetrics(), log)
	assert.Error(t, second.Start())
	assert.False(t, second.IsRunning())
}
