package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/database"
	"github.com/ashwinyue/next-prompt/internal/handler"
	"github.com/ashwinyue/next-prompt/internal/middleware"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
	"github.com/ashwinyue/next-prompt/internal/service"
	"github.com/ashwinyue/next-prompt/internal/service/inference"
	"github.com/ashwinyue/next-prompt/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubInference struct{}

func (stubInference) Invoke(ctx context.Context, content string, input map[string]interface{}) (*inference.Response, error) {
	return &inference.Response{Output: testutil.CompleteOutput(), Raw: "{}", Latency: 300 * time.Millisecond}, nil
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	db     *gorm.DB
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"

	db := testutil.NewTestDB(t)
	svcs, err := service.NewServices(context.Background(), repository.NewRepositories(db), cfg, nil, zap.NewNop(),
		service.WithInference(stubInference{}))
	require.NoError(t, err)

	token, err := middleware.SignToken(cfg.Auth.JWTSecret, "ops", cfg.Auth.AdminRole, time.Hour)
	require.NoError(t, err)

	return &testServer{
		t:      t,
		engine: SetupRouter(handler.NewHandlers(svcs, &database.DB{DB: db}), cfg.Auth, zap.NewNop()),
		db:     db,
		token:  token,
	}
}

func (s *testServer) do(method, path string, body interface{}, admin bool) (int, apiResponse) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, code)
}

func TestPromptLifecycle(t *testing.T) {
	s := newTestServer(t)

	baseline := map[string]interface{}{
		"prompt_name":        "classify_en",
		"version":            "1.0.0",
		"variant_id":         "baseline",
		"prompt_content":     "Classify the message: {{msg}}",
		"language":           "en",
		"is_active":          true,
		"is_baseline":        true,
		"traffic_percentage": 100,
	}

	code, _ := s.do(http.MethodPost, "/api/v1/variants", baseline, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := s.do(http.MethodPost, "/api/v1/variants", baseline, true)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	registered := decode[model.PromptVariant](t, resp.Data)

	code, _ = s.do(http.MethodPost, "/api/v1/variants", baseline, true)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(http.MethodPost, "/api/v1/prompts/execute", map[string]interface{}{
		"prompt_name": "classify_en",
		"input_data":  map[string]interface{}{"msg": "urgent request"},
		"language":    "en",
	}, false)
	require.Equal(t, http.StatusOK, code, resp.Message)
	result := decode[map[string]interface{}](t, resp.Data)
	assert.Equal(t, registered.ID, result["variant_id"])
	assert.NotEmpty(t, result["execution_id"])

	code, resp = s.do(http.MethodGet, "/api/v1/variants/"+registered.ID+"/executions", nil, false)
	require.Equal(t, http.StatusOK, code)
	execs := decode[map[string]interface{}](t, resp.Data)
	assert.EqualValues(t, 1, execs["total"])

	code, resp = s.do(http.MethodPost, "/api/v1/prompts/classify_en/evolve", map[string]interface{}{
		"strategy": "few_shot_enhancement",
	}, true)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	child := decode[model.PromptVariant](t, resp.Data)
	assert.Equal(t, "1.0.1", child.Version)
	assert.False(t, child.IsActive)

	code, resp = s.do(http.MethodGet, "/api/v1/variants/"+child.ID+"/lineage", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.EvolutionRecord](t, resp.Data), 1)

	code, resp = s.do(http.MethodPost, "/api/v1/prompts/classify_en/activate", map[string]interface{}{
		"variant_id": child.VariantID,
		"version":    child.Version,
	}, true)
	require.Equal(t, http.StatusOK, code, resp.Message)

	code, resp = s.do(http.MethodGet, "/api/v1/prompts/classify_en/active?language=en", nil, false)
	require.Equal(t, http.StatusOK, code)
	active := decode[struct {
		Variants []model.PromptVariant `json:"variants"`
	}](t, resp.Data)
	require.Len(t, active.Variants, 1)
	assert.Equal(t, child.ID, active.Variants[0].ID)

	code, resp = s.do(http.MethodGet, "/api/v1/prompts/classify_en/variants", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, decode[map[string]interface{}](t, resp.Data)["total"])

	code, _ = s.do(http.MethodGet, "/api/v1/variants/missing", nil, false)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/prompts/execute", map[string]interface{}{"prompt_name": "unknown"}, false)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/prompts/execute", map[string]interface{}{}, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestExperimentEndpoints(t *testing.T) {
	s := newTestServer(t)
	control := testutil.CreateVariant(t, s.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	treatment := testutil.CreateVariant(t, s.db, "classify_en", "1.1.0", "few_shot_v1")

	code, resp := s.do(http.MethodPost, "/api/v1/experiments", map[string]interface{}{
		"test_name":            "baseline vs few shot",
		"prompt_name":          "classify_en",
		"control_variant_id":   control.ID,
		"treatment_variant_id": treatment.ID,
		"min_sample_size":      2,
	}, true)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	exp := decode[model.Experiment](t, resp.Data)
	assert.Equal(t, "ops", exp.CreatedBy)

	code, _ = s.do(http.MethodPost, "/api/v1/experiments", map[string]interface{}{
		"test_name":            "invalid",
		"prompt_name":          "classify_en",
		"control_variant_id":   control.ID,
		"treatment_variant_id": control.ID,
	}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(http.MethodPost, "/api/v1/experiments/"+exp.ID+"/start", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Message)

	code, _ = s.do(http.MethodPost, "/api/v1/prompts/classify_en/activate", map[string]interface{}{
		"variant_id": "few_shot_v1",
		"version":    "1.1.0",
	}, true)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = s.do(http.MethodGet, "/api/v1/experiments?status=running", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, decode[map[string]interface{}](t, resp.Data)["total"])

	code, resp = s.do(http.MethodPost, "/api/v1/maintenance/experiments/check", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Message)

	code, resp = s.do(http.MethodPost, "/api/v1/experiments/"+exp.ID+"/stop", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Message)

	code, _ = s.do(http.MethodPost, "/api/v1/experiments/"+exp.ID+"/stop", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodGet, "/api/v1/experiments/missing", nil, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(http.MethodPost, "/api/v1/maintenance/rollup", nil, true)
	require.Equal(t, http.StatusOK, code, resp.Message)
}
