package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"constructlink/internal/config"
	"constructlink/internal/database"
	"constructlink/internal/model"
	"constructlink/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "8080", Mode: "test", CORSOrigins: []string{"http://localhost:5173"}},
		Database:  config.DatabaseConfig{Driver: "sqlite"},
		Auth:      config.AuthConfig{JWTSecret: "cmd-test", TokenTTL: time.Hour},
		Scheduler: config.SchedulerConfig{OverdueCron: "0 7 * * *"},
		Logging:   config.LoggingConfig{Level: "info"},
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	a := wire(database.NewTestDB(t), testConfig(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, seed(ctx, a, "changeme123", zap.NewNop()))
	require.NoError(t, seed(ctx, a, "changeme123", zap.NewNop()))

	var projects, users, assets int64
	require.NoError(t, a.db.Model(&model.Project{}).Count(&projects).Error)
	require.NoError(t, a.db.Model(&model.User{}).Count(&users).Error)
	require.NoError(t, a.db.Model(&model.Asset{}).Count(&assets).Error)
	assert.Equal(t, int64(len(demoProjects)), projects)
	assert.Equal(t, int64(len(demoUsers)), users)
	assert.Equal(t, int64(len(demoAssets)), assets)

	res, err := a.users.Login(ctx, service.LoginUserRequest{Username: "pm.north", Password: "changeme123"})
	require.NoError(t, err)
	require.NotNil(t, res.User.CurrentProjectID)
}

func TestRouterWiring(t *testing.T) {
	cfg := testConfig()
	a := wire(database.NewTestDB(t), cfg, zap.NewNop())
	r := a.router(cfg, zap.NewNop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transfers", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "constructlink_http_request_duration_seconds"), w.Body.String())
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "loud"
	_, err := newLogger(cfg)
	assert.Error(t, err)

	cfg.Logging.Level = "DEBUG"
	logger, err := newLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
