package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
	"github.com/ashwinyue/next-prompt/internal/service/optimizer"
	"github.com/ashwinyue/next-prompt/internal/testutil"
)

func TestNewServices_EndToEnd(t *testing.T) {
	server := testutil.NewChatCompletionServer(t, `{"intent":"X","tone":"Y","urgency":"High","confidence_score":0.9}`)
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.AI.Provider = "openai"
	cfg.AI.OpenAI.APIKey = "test-key"
	cfg.AI.OpenAI.BaseURL = server.BaseURL()
	cfg.Redis.Enabled = true
	cfg.Redis.Host, cfg.Redis.Port = mr.Host(), mustPort(t, mr)

	db := testutil.NewTestDB(t)
	repos := repository.NewRepositories(db)
	redisClient := NewRedisClient(cfg.Redis)
	require.NotNil(t, redisClient)
	t.Cleanup(func() { _ = redisClient.Close() })

	ctx := context.Background()
	svcs, err := NewServices(ctx, repos, cfg, redisClient, nil)
	require.NoError(t, err)
	require.NotNil(t, svcs.ChatModel)

	baseline := testutil.CreateVariant(t, db, "classify_en", "1.0.0", "baseline", testutil.Active())
	candidate := testutil.CreateVariant(t, db, "classify_en", "1.1.0", "few_shot_v1")

	result, err := svcs.Optimizer.ExecutePrompt(ctx, "classify_en", map[string]interface{}{"msg": "urgent request"}, optimizer.Options{Language: "en"})
	require.NoError(t, err)
	assert.Nil(t, result.Bypass)
	assert.Equal(t, baseline.ID, result.VariantID)
	assert.GreaterOrEqual(t, result.Scores.Overall, 0.9)
	assert.EqualValues(t, 1, server.Requests())
	assert.True(t, mr.Exists("prompt:routing:classify_en:en"))

	// 激活后路由快照失效
	_, err = svcs.Registry.Activate(ctx, "classify_en", "few_shot_v1", "1.1.0")
	require.NoError(t, err)
	assert.False(t, mr.Exists("prompt:routing:classify_en:en"))

	result, err = svcs.Optimizer.ExecutePrompt(ctx, "classify_en", map[string]interface{}{"msg": "hi"}, optimizer.Options{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, candidate.ID, result.VariantID)
}

func TestNewServices_WithoutChatModel(t *testing.T) {
	cfg := config.Default()
	cfg.AI.OpenAI.APIKey = ""

	db := testutil.NewTestDB(t)
	svcs, err := NewServices(context.Background(), repository.NewRepositories(db), cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, svcs.ChatModel)

	testutil.CreateVariant(t, db, "classify_en", "1.0.0", "baseline", testutil.Active())

	_, err = svcs.Optimizer.ExecutePrompt(context.Background(), "classify_en", nil, optimizer.Options{Language: "en"})
	require.ErrorIs(t, err, model.ErrInferenceFailure)

	result, err := svcs.Optimizer.ExecutePrompt(context.Background(), "classify_en", nil, optimizer.Options{
		Language: "en",
		Fallback: func(ctx context.Context, promptName string, input map[string]interface{}) (*model.Output, error) {
			return &model.Output{Intent: model.StringPtr("legacy")}, nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Bypass)
	assert.Equal(t, optimizer.ReasonInferenceFailure, result.Bypass.Reason)
}

func TestNewServices_InvalidScoring(t *testing.T) {
	cfg := config.Default()
	cfg.Scoring.Weights.Accuracy = 0.9

	_, err := NewServices(context.Background(), repository.NewRepositories(testutil.NewTestDB(t)), cfg, nil, nil)
	require.Error(t, err)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}
