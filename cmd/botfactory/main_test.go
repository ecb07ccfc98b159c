// ABOUTME: Tests for the CLI commands against temp config files and a fake server
// ABOUTME: Covers init, token, health, tenants and the colour log handler

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botfactory/internal/auth"
	"github.com/2389/botfactory/internal/config"
	"github.com/2389/botfactory/internal/factory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, httpAddr, secret string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "factory:\n  token: \"1:factory\"\n" +
		"server:\n  http_addr: \"" + httpAddr + "\"\n" +
		"auth:\n  jwt_secret: \"" + secret + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	var out bytes.Buffer

	require.NoError(t, runInit(&out, path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Sample, string(data))
	assert.Contains(t, out.String(), path)

	err = runInit(&out, path, false)
	assert.ErrorContains(t, err, "already exists")

	assert.NoError(t, runInit(&out, path, true))
}

func TestRunToken(t *testing.T) {
	path := writeConfig(t, "127.0.0.1:1", testSecret)
	var out bytes.Buffer

	require.NoError(t, runToken(&out, path, 4242, time.Hour))

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	owner, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, int64(4242), owner)
}

func TestRunToken_Rejections(t *testing.T) {
	withSecret := writeConfig(t, "127.0.0.1:1", testSecret)
	noSecret := writeConfig(t, "127.0.0.1:1", "")

	tests := []struct {
		name  string
		path  string
		owner int64
		ttl   time.Duration
		want  string
	}{
		{"missing owner", withSecret, 0, time.Hour, "--owner"},
		{"bad ttl", withSecret, 1, 0, "--ttl"},
		{"no secret", noSecret, 1, time.Hour, "jwt_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runToken(&bytes.Buffer{}, tt.path, tt.owner, tt.ttl)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRunHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte("OK"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	path := writeConfig(t, strings.TrimPrefix(srv.URL, "http://"), "")
	var out bytes.Buffer

	require.NoError(t, runHealth(context.Background(), &out, path))
	assert.Equal(t, "healthy\n", out.String())
}

func TestRunHealth_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	path := writeConfig(t, strings.TrimPrefix(srv.URL, "http://"), "")

	err := runHealth(context.Background(), &bytes.Buffer{}, path)
	assert.ErrorContains(t, err, "503")
}

func TestRunTenants(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]factory.TenantResponse{
			{ID: 2, Name: "tutor_bot", Active: true, Running: true, CreatedAt: "2026-01-02T03:04:05Z"},
			{ID: 1, Name: "old_bot", CreatedAt: "2026-01-01T00:00:00Z"},
		})
	}))
	defer srv.Close()
	path := writeConfig(t, strings.TrimPrefix(srv.URL, "http://"), "")
	var out bytes.Buffer

	require.NoError(t, runTenants(context.Background(), &out, path, "tok"))

	assert.Equal(t, "Bearer tok", gotAuth)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "@tutor_bot")
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[2], "stopped")
}

func TestRunTenants_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()
	path := writeConfig(t, strings.TrimPrefix(srv.URL, "http://"), "")

	err := runTenants(context.Background(), &bytes.Buffer{}, path, "bad")
	assert.ErrorContains(t, err, "invalid token")
}

func TestPrintTenants_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTenants(&out, nil))
	assert.Equal(t, "no tenants\n", out.String())
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &out)

	logger.Info("hidden")
	logger.With("component", "tenant").WithGroup("req").Warn("slow", "ms", 12)

	line := out.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "WRN slow")
	assert.Contains(t, line, "component=tenant")
	assert.Contains(t, line, "req.ms=12")
}

func TestSetupLogger_JSON(t *testing.T) {
	var out bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &out)

	logger.Debug("hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, slog.LevelDebug.String(), rec["level"])
}
