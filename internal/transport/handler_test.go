package transport

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go-leaf-doctor/internal/auth"
	"go-leaf-doctor/internal/config"
	"go-leaf-doctor/internal/guidance"
	"go-leaf-doctor/internal/inference"
	"go-leaf-doctor/internal/observer"
	"go-leaf-doctor/internal/repository"
	"go-leaf-doctor/internal/service"
	"go-leaf-doctor/internal/storage"
	"go-leaf-doctor/migrations"
	"go-leaf-doctor/pkg/models"
	"go-leaf-doctor/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type stubInvoker struct {
	calls   int
	outcome inference.Outcome
	err     error
}

func (s *stubInvoker) Invoke(ctx context.Context, imagePath string) (inference.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

type testServer struct {
	handler http.Handler
	invoker *stubInvoker
	cfg     *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Upload.Dir = t.TempDir()
	cfg.Auth.JWTSecret = "test-secret"

	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "api.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Up(db, config.DriverSQLite))
	repo := repository.NewSQLRepository(db, config.DriverSQLite)

	uploads, err := storage.NewUploadStore(cfg.Upload.Dir, cfg.Upload.MaxUploadSize, nil)
	require.NoError(t, err)
	validator, err := validation.NewImageReferenceValidator(cfg.Upload.URLPrefix, cfg.Upload.Dir)
	require.NoError(t, err)
	catalog, err := guidance.New(guidance.MatchExact)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics, err := observer.NewMetricsObserver(reg)
	require.NoError(t, err)
	pub := observer.NewEventPublisher()
	pub.Subscribe(metrics)

	invoker := &stubInvoker{outcome: inference.Outcome{Label: "Tomato___healthy", Confidence: 0.93}}
	predictions := service.NewPredictionService(validator, invoker, catalog, service.NewRecorder(repo), repo, pub)
	authSvc := auth.NewService(repo, auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL))

	h := NewHandler(Dependencies{
		Predictions: predictions,
		Auth:        authSvc,
		Uploads:     uploads,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, cfg)

	return &testServer{handler: h, invoker: invoker, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, token string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "leaf.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/auth/register", auth.RegisterInput{
		Name: "Grower", Email: "grower@example.com", Password: "secret",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", auth.LoginInput{
		Email: "grower@example.com", Password: "secret",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.login(t)

	w := s.do(t, http.MethodPost, "/api/auth/register", auth.RegisterInput{
		Name: "Again", Email: "grower@example.com", Password: "x",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Email already registered", decodeError(t, w).Message)

	w = s.do(t, http.MethodPost, "/api/auth/register", map[string]string{"email": "a@b.c"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing fields", decodeError(t, w).Message)

	w = s.do(t, http.MethodPost, "/api/auth/login", auth.LoginInput{Email: "grower@example.com", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", decodeError(t, w).Message)
}

func TestPredict_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: "/uploads/x.png"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "No token, authorization denied", decodeError(t, w).Message)

	w = s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: "/uploads/x.png"}, "bogus")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Token is not valid", decodeError(t, w).Message)

	assert.Equal(t, 0, s.invoker.calls)
}

func TestPredict_AcceptsXAuthToken(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	req := httptest.NewRequest(http.MethodGet, "/api/predictions", nil)
	req.Header.Set("x-auth-token", token)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadPredictAndHistory(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	w := s.upload(t, token, pngBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	assert.True(t, strings.HasPrefix(up.ImageURL, "/uploads/"))
	assert.True(t, strings.HasSuffix(up.ImageURL, ".png"))

	static := s.do(t, http.MethodGet, up.ImageURL, nil, "")
	assert.Equal(t, http.StatusOK, static.Code)
	assert.Equal(t, pngBytes, static.Body.Bytes())

	w = s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: up.ImageURL}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pred models.PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
	assert.NotEmpty(t, pred.ID)
	assert.Equal(t, up.ImageURL, pred.ImageURL)
	assert.Equal(t, "Tomato___healthy", pred.Disease)
	assert.Equal(t, 0.93, pred.Confidence)
	assert.Equal(t, "Tomato leaf is healthy.", pred.Description)
	assert.Equal(t, []string{"Continue good practices", "Monitor regularly"}, pred.Suggestions)
	assert.Empty(t, pred.Warning)

	w = s.do(t, http.MethodGet, "/api/predictions?limit=5", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var hist models.PredictionHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist.Predictions, 1)
	assert.Equal(t, pred.ID, hist.Predictions[0].ID)

	w = s.do(t, http.MethodGet, "/api/predictions?limit=abc", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_RejectsNonImage(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	w := s.upload(t, token, []byte("plain text, not an image"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredict_Rejections(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	w := s.do(t, http.MethodPost, "/api/predict", map[string]string{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid or missing imageUrl", decodeError(t, w).Message)

	w = s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: "/etc/passwd"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: "/uploads/missing.png"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Image file not found", decodeError(t, w).Message)

	assert.Equal(t, 0, s.invoker.calls)
}

func TestPredict_Failures(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	w := s.upload(t, token, pngBytes)
	require.Equal(t, http.StatusCreated, w.Code)
	var up models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	s.invoker.err = &inference.InvocationError{Kind: inference.KindProcessError, Detail: "Traceback: boom", ExitCode: 1}
	w = s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: up.ImageURL}, token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	failed := decodeError(t, w)
	assert.Equal(t, "Prediction failed", failed.Message)
	assert.Equal(t, "Traceback: boom", failed.Error)

	s.invoker.err = &inference.InvocationError{Kind: inference.KindMalformedOutput, Detail: "not json"}
	w = s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: up.ImageURL}, token)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	malformed := decodeError(t, w)
	assert.Equal(t, "Invalid response from model", malformed.Message)
	assert.Equal(t, "not json", malformed.Error)

	w = s.do(t, http.MethodGet, "/api/predictions", nil, token)
	var hist models.PredictionHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Empty(t, hist.Predictions)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	s.do(t, http.MethodPost, "/api/predict", models.PredictRequest{ImageURL: "bad"}, token)

	w := s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `plant_predictions_total{outcome="rejected"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryReturnsServerError(t *testing.T) {
	s := newTestServer(t)
	engine, ok := s.handler.(*gin.Engine)
	require.True(t, ok)
	engine.GET("/boom", func(*gin.Context) { panic("boom") })

	w := s.do(t, http.MethodGet, "/boom", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server error", decodeError(t, w).Message)
}

func TestTokenFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, tokenFrom(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", tokenFrom(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, tokenFrom(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-auth-token", "xyz")
	assert.Equal(t, "xyz", tokenFrom(req))
}
