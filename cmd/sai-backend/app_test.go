package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()

	body := fmt.Sprintf(`
name: sai-backend
version: "1.0.0"
logger:
  type: nop
backend:
  api_key: appl_test
  base_url: %s
cache:
  type: memory
`, baseURL)

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"sai-backend"}, args...))
	return out.String(), err
}

func TestConfigGet(t *testing.T) {
	path := writeConfig(t, "https://api.example.com")

	out, err := run(t, "--config", path, "config", "get", "backend.base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com\n", out)

	_, err = run(t, "--config", path, "config", "get", "backend.missing")
	assert.Error(t, err)
}

func TestHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	out, err := run(t, "--config", writeConfig(t, srv.URL), "health")
	require.NoError(t, err)
	assert.Contains(t, out, "status: 200 (main, verification not_requested)")
	assert.Contains(t, out, `{"status":"ok"}`)
}

func TestCustomerInfoRequiresUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer srv.Close()

	_, err := run(t, "--config", writeConfig(t, srv.URL), "customer-info")
	assert.Error(t, err)
}

func TestClearCacheCommand(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t, "https://api.example.com"), "clear-cache")
	require.NoError(t, err)
	assert.Equal(t, "cache cleared\n", out)
}

func TestServeRequiresStatusServer(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t, "https://api.example.com"), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status server is disabled")
}
