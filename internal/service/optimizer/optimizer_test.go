package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
	"github.com/ashwinyue/next-prompt/internal/service/inference"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
	"github.com/ashwinyue/next-prompt/internal/service/scoring"
	"github.com/ashwinyue/next-prompt/internal/service/selector"
	"github.com/ashwinyue/next-prompt/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeInference struct {
	output  *model.Output
	raw     string
	latency time.Duration
	err     error
	block   bool
	content string
	calls   int
}

func (f *fakeInference) Invoke(ctx context.Context, content string, input map[string]interface{}) (*inference.Response, error) {
	f.calls++
	f.content = content
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &inference.Response{Output: f.output, Raw: f.raw, Latency: f.latency}, nil
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, exec *model.PromptExecution) error {
	return errors.New("disk full")
}

type harness struct {
	db        *gorm.DB
	repos     *repository.Repositories
	inference *fakeInference
	optimizer *Optimizer
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg config.OptimizerConfig) *harness {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	db := testutil.NewTestDB(t)
	repos := repository.NewRepositories(db)
	scorer, err := scoring.NewScorer(config.Default().Scoring, repos.Variant, repos.Execution, logger)
	require.NoError(t, err)

	reg := registry.NewService(repos.Variant, repos.Experiment, logger)
	sel := selector.New(reg, logger)
	inf := &fakeInference{output: testutil.CompleteOutput(), raw: "{}", latency: 500 * time.Millisecond}

	return &harness{
		db:        db,
		repos:     repos,
		inference: inf,
		optimizer: New(sel, inf, scorer, repos.Execution, cfg, logger),
		logs:      logs,
	}
}

func legacy(calls *int) LegacyFunc {
	return func(ctx context.Context, promptName string, input map[string]interface{}) (*model.Output, error) {
		*calls++
		return &model.Output{Intent: model.StringPtr("legacy")}, nil
	}
}

func TestExecutePrompt_Baseline(t *testing.T) {
	h := newHarness(t, config.Default().Optimizer)
	v := testutil.CreateVariant(t, h.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	ctx := context.Background()

	result, err := h.optimizer.ExecutePrompt(ctx, "classify_en", map[string]interface{}{"msg": "urgent request"}, Options{
		Language:  "en",
		ClientID:  "client-1",
		RequestID: "req-1",
	})
	require.NoError(t, err)
	require.Nil(t, result.Bypass)
	assert.Equal(t, v.ID, result.VariantID)
	assert.Equal(t, "1.0.0", result.Version)
	assert.Equal(t, selector.ArmNone, result.Arm)
	assert.Equal(t, "Classify the message: urgent request", h.inference.content)

	require.NotNil(t, result.Scores)
	assert.InDelta(t, 1.0, result.Scores.Accuracy, 1e-9)
	assert.InDelta(t, 1.0, result.Scores.Consistency, 1e-9)
	assert.InDelta(t, 1.0, result.Scores.Completeness, 1e-9)
	assert.GreaterOrEqual(t, result.Scores.Overall, 0.9)

	stored := testutil.ReloadVariant(t, h.db, v.ID)
	assert.EqualValues(t, 1, stored.TotalUses)
	assert.EqualValues(t, 1, stored.SuccessfulUses)
	assert.NotNil(t, stored.LastUsedAt)

	exec, err := h.repos.Execution.GetByExecutionID(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, exec.VariantRefID)
	assert.Equal(t, "client-1", exec.ClientID)
	assert.Equal(t, InputHash(map[string]interface{}{"msg": "urgent request"}), exec.InputHash)
	assert.Len(t, exec.InputHash, 64)
	assert.EqualValues(t, 500, exec.ResponseTimeMs)
	assert.Equal(t, model.EnvironmentProduction, exec.Environment)
	assert.False(t, exec.ErrorOccurred)
	assert.Equal(t, testutil.CompleteOutput(), exec.Output)
}

func TestExecutePrompt_NoVariant(t *testing.T) {
	h := newHarness(t, config.Default().Optimizer)
	ctx := context.Background()

	_, err := h.optimizer.ExecutePrompt(ctx, "classify_en", nil, Options{Language: "en"})
	require.ErrorIs(t, err, model.ErrNoVariantAvailable)
	assert.Zero(t, h.logs.FilterMessage("optimization bypassed").Len())

	calls := 0
	result, err := h.optimizer.ExecutePrompt(ctx, "classify_en", nil, Options{Language: "en", Fallback: legacy(&calls)})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "legacy", *result.Output.Intent)
	require.NotNil(t, result.Bypass)
	assert.Equal(t, ReasonNoVariant, result.Bypass.Reason)
	assert.ErrorIs(t, result.Bypass, model.ErrNoVariantAvailable)
	assert.Empty(t, result.ExecutionID)
	assert.Zero(t, h.inference.calls)

	entries := h.logs.FilterMessage("optimization bypassed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "no_variant", entries[0].ContextMap()["reason"])
}

func TestExecutePrompt_InferenceFailure(t *testing.T) {
	h := newHarness(t, config.Default().Optimizer)
	v := testutil.CreateVariant(t, h.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	h.inference.err = errors.New("upstream 503")
	ctx := context.Background()

	calls := 0
	result, err := h.optimizer.ExecutePrompt(ctx, "classify_en", map[string]interface{}{"msg": "hi"}, Options{Language: "en", Fallback: legacy(&calls)})
	require.NoError(t, err)
	require.NotNil(t, result.Bypass)
	assert.Equal(t, ReasonInferenceFailure, result.Bypass.Reason)
	assert.ErrorIs(t, result.Bypass, model.ErrInferenceFailure)
	assert.Equal(t, 1, calls)

	_, err = h.optimizer.ExecutePrompt(ctx, "classify_en", map[string]interface{}{"msg": "hi"}, Options{Language: "en"})
	require.ErrorIs(t, err, model.ErrInferenceFailure)

	stored := testutil.ReloadVariant(t, h.db, v.ID)
	assert.EqualValues(t, 2, stored.TotalUses)
	assert.EqualValues(t, 2, stored.FailedUses)

	execs, err := h.repos.Execution.ListByVariant(ctx, v.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	for _, exec := range execs {
		assert.True(t, exec.ErrorOccurred)
		assert.Equal(t, model.ErrorTypeInference, exec.ErrorType)
		assert.Contains(t, exec.ErrorMessage, "upstream 503")
	}
}

func TestExecutePrompt_Timeout(t *testing.T) {
	cfg := config.Default().Optimizer
	cfg.InferenceTimeoutMs = 20
	h := newHarness(t, cfg)
	v := testutil.CreateVariant(t, h.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	h.inference.block = true
	ctx := context.Background()

	start := time.Now()
	_, err := h.optimizer.ExecutePrompt(ctx, "classify_en", nil, Options{Language: "en"})
	require.ErrorIs(t, err, model.ErrInferenceFailure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	execs, err := h.repos.Execution.ListByVariant(ctx, v.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, model.ErrorTypeTimeout, execs[0].ErrorType)
	assert.GreaterOrEqual(t, execs[0].ResponseTimeMs, int64(20))
}

func TestExecutePrompt_ScoringInconsistency(t *testing.T) {
	h := newHarness(t, config.Default().Optimizer)
	v := testutil.CreateVariant(t, h.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	h.inference.output = nil
	h.inference.raw = "not json"
	ctx := context.Background()

	_, err := h.optimizer.ExecutePrompt(ctx, "classify_en", nil, Options{Language: "en"})
	require.ErrorIs(t, err, model.ErrScoringInconsistency)

	calls := 0
	result, err := h.optimizer.ExecutePrompt(ctx, "classify_en", nil, Options{Language: "en", Fallback: legacy(&calls)})
	require.NoError(t, err)
	require.NotNil(t, result.Bypass)
	assert.Equal(t, ReasonScoringInconsistency, result.Bypass.Reason)

	execs, err := h.repos.Execution.ListByVariant(ctx, v.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	for _, exec := range execs {
		assert.Equal(t, model.ErrorTypeScoring, exec.ErrorType)
		assert.Equal(t, "not json", exec.RawOutput)
		assert.Nil(t, exec.Output)
		assert.Zero(t, exec.OverallScore)
		assert.Zero(t, exec.ResponseTimeScore)
	}
}

func TestExecutePrompt_RecordFailureSurfaces(t *testing.T) {
	h := newHarness(t, config.Default().Optimizer)
	testutil.CreateVariant(t, h.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	h.optimizer.recorder = failingRecorder{}

	calls := 0
	_, err := h.optimizer.ExecutePrompt(context.Background(), "classify_en", nil, Options{Language: "en", Fallback: legacy(&calls)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, calls)
}

func TestExecutePrompt_ExperimentArm(t *testing.T) {
	h := newHarness(t, config.Default().Optimizer)
	control := testutil.CreateVariant(t, h.db, "classify_en", "1.0.0", "baseline", testutil.Active())
	treatment := testutil.CreateVariant(t, h.db, "classify_en", "1.1.0", "few_shot_v1")
	ctx := context.Background()

	exp := &model.Experiment{
		Name:               "all treatment",
		PromptName:         "classify_en",
		ControlVariantID:   control.ID,
		TreatmentVariantID: treatment.ID,
		ControlTraffic:     0,
		TreatmentTraffic:   100,
		MinSampleSize:      10,
		MaxDurationDays:    7,
		SignificanceLevel:  0.05,
		Status:             model.ExperimentStatusDraft,
	}
	require.NoError(t, h.repos.Experiment.Create(ctx, exp))
	_, err := h.repos.Experiment.Start(ctx, exp.ID, time.Now().UTC())
	require.NoError(t, err)

	result, err := h.optimizer.ExecutePrompt(ctx, "classify_en", map[string]interface{}{"msg": "hi"}, Options{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, selector.ArmTreatment, result.Arm)
	assert.Equal(t, treatment.ID, result.VariantID)

	exec, err := h.repos.Execution.GetByExecutionID(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, exec.Metadata["experiment_id"])
	assert.Equal(t, "treatment", exec.Metadata["arm"])
}

func TestInputHash(t *testing.T) {
	a := InputHash(map[string]interface{}{"msg": "hi", "lang": "en"})
	b := InputHash(map[string]interface{}{"lang": "en", "msg": "hi"})
	c := InputHash(map[string]interface{}{"msg": "hello", "lang": "en"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
