package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go-leaf-doctor/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Upload.Dir = filepath.Join(t.TempDir(), "uploads")
	cfg.Database.URL = "file:" + filepath.Join(t.TempDir(), "leaf.db") + "?_pragma=foreign_keys(1)"
	return cfg
}

func TestNewContainer_WiresHandler(t *testing.T) {
	cfg := testConfig(t)

	c, err := NewContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Same(t, cfg, c.Config())

	for _, path := range []string{"/api/health", "/metrics"} {
		w := httptest.NewRecorder()
		c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w = httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predict", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewContainer_RejectsBadMatchMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.GuidanceMatchMode = "fuzzy"

	_, err := NewContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewContainer_UnsupportedDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mongodb"

	_, err := NewContainer(context.Background(), cfg)
	assert.Error(t, err)
}
