package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/testutil"
)

func TestVariantRepository_CreateDuplicate(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	first := testutil.NewVariant("classify", "1.0.0", "baseline", testutil.WithContent("first"))
	require.NoError(t, repo.Create(ctx, first))

	second := testutil.NewVariant("classify", "1.0.0", "baseline", testutil.WithContent("second"))
	err := repo.Create(ctx, second)
	require.ErrorIs(t, err, model.ErrDuplicateVariant)

	variants, err := repo.List(ctx, "classify", "")
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "first", variants[0].Content)
}

func TestVariantRepository_ActivateKeepsSingleActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	a := testutil.CreateVariant(t, db, "classify", "1.0.0", "a", testutil.Active())
	b := testutil.CreateVariant(t, db, "classify", "1.1.0", "b")
	c := testutil.CreateVariant(t, db, "classify", "1.2.0", "c")
	other := testutil.CreateVariant(t, db, "summarize", "1.0.0", "a", testutil.Active())

	sequence := []*model.PromptVariant{b, c, a, c, b}
	for _, target := range sequence {
		activated, err := repo.Activate(ctx, "classify", target.VariantID, target.Version)
		require.NoError(t, err)
		assert.Equal(t, target.ID, activated.ID)
		assert.True(t, activated.IsActive)
		assert.True(t, activated.IsBaseline)
		assert.Equal(t, 100.0, activated.TrafficPercentage)
		assert.NotNil(t, activated.ActivatedAt)

		var active int64
		require.NoError(t, db.Model(&model.PromptVariant{}).
			Where("prompt_name = ? AND is_active = ?", "classify", true).Count(&active).Error)
		assert.Equal(t, int64(1), active)
	}

	// 其他提示词不受影响
	assert.True(t, testutil.ReloadVariant(t, db, other.ID).IsActive)
}

func TestVariantRepository_ActivateErrors(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	a := testutil.CreateVariant(t, db, "classify", "1.0.0", "a", testutil.Active())
	b := testutil.CreateVariant(t, db, "classify", "1.1.0", "b")

	t.Run("unknown variant rolls back", func(t *testing.T) {
		_, err := repo.Activate(ctx, "classify", "missing", "9.9.9")
		require.ErrorIs(t, err, model.ErrVariantNotFound)
		assert.True(t, testutil.ReloadVariant(t, db, a.ID).IsActive)
	})

	t.Run("running experiment", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, db.Create(&model.Experiment{
			Name:               "exp",
			PromptName:         "classify",
			ControlVariantID:   a.ID,
			TreatmentVariantID: b.ID,
			Status:             model.ExperimentStatusRunning,
			StartedAt:          &now,
		}).Error)

		_, err := repo.Activate(ctx, "classify", b.VariantID, b.Version)
		require.ErrorIs(t, err, model.ErrExperimentAlreadyRunning)

		_, err = repo.Deactivate(ctx, a.ID)
		require.ErrorIs(t, err, model.ErrExperimentAlreadyRunning)
	})
}

func TestVariantRepository_Deactivate(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	a := testutil.CreateVariant(t, db, "classify", "1.0.0", "a", testutil.Active())

	v, err := repo.Deactivate(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, v.IsActive)
	assert.False(t, v.IsBaseline)
	assert.Zero(t, v.TrafficPercentage)

	// 记录仍然保留
	_, err = repo.GetByID(ctx, a.ID)
	require.NoError(t, err)

	_, err = repo.Deactivate(ctx, "missing")
	require.ErrorIs(t, err, model.ErrVariantNotFound)
}

func TestVariantRepository_ListEligibleOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	low := testutil.CreateVariant(t, db, "classify", "1.0.0", "low", testutil.Active(), testutil.WithScore(0.3))
	high := testutil.CreateVariant(t, db, "classify", "1.1.0", "high", testutil.Active(), testutil.WithScore(0.8))
	testutil.CreateVariant(t, db, "classify", "1.2.0", "idle", testutil.WithScore(0.99))
	testutil.CreateVariant(t, db, "classify", "1.0.0", "fr", testutil.Active(), testutil.WithLanguage("fr"))

	variants, err := repo.ListEligible(ctx, "classify", "en")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, high.ID, variants[0].ID)
	assert.Equal(t, low.ID, variants[1].ID)
}

func TestVariantRepository_BestAndVersionTaken(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	used := testutil.CreateVariant(t, db, "classify", "1.0.0", "used", testutil.WithScore(0.6))
	testutil.CreateVariant(t, db, "classify", "1.1.0", "unused", testutil.WithScore(0.9))
	require.NoError(t, db.Model(&model.PromptVariant{}).Where("id = ?", used.ID).Update("total_uses", 10).Error)

	best, err := repo.Best(ctx, "classify", 5)
	require.NoError(t, err)
	assert.Equal(t, used.ID, best.ID)

	_, err = repo.Best(ctx, "classify", 100)
	require.ErrorIs(t, err, model.ErrVariantNotFound)

	taken, err := repo.VersionTaken(ctx, "classify", "1.1.0")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = repo.VersionTaken(ctx, "classify", "1.0.1")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestVariantRepository_UpdateScores(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVariantRepository(db)
	ctx := context.Background()

	v := testutil.CreateVariant(t, db, "classify", "1.0.0", "a")
	scoredAt := time.Now().UTC()
	scores := model.VariantScores{Overall: 0.9, Accuracy: 1, ResponseTime: 0.8, Consistency: 1, UserSatisfaction: 0.6}
	require.NoError(t, repo.UpdateScores(ctx, v.ID, scores, scoredAt))

	got := testutil.ReloadVariant(t, db, v.ID)
	assert.InDelta(t, 0.9, got.OverallScore, 1e-9)
	assert.InDelta(t, 0.6, got.UserSatisfactionScore, 1e-9)
	require.NotNil(t, got.ScoredAt)

	require.ErrorIs(t, repo.UpdateScores(ctx, "missing", scores, scoredAt), model.ErrVariantNotFound)
}
