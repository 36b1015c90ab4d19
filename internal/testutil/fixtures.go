// Package testutil 提供测试辅助工具
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ashwinyue/next-prompt/internal/database"
	"github.com/ashwinyue/next-prompt/internal/model"
)

// NewTestDB 创建基于临时 sqlite 文件的测试数据库，并完成迁移
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	// 单连接，所有写入串行化
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// VariantOption 修改测试变体
type VariantOption func(v *model.PromptVariant)

// Active 设为激活基线
func Active() VariantOption {
	return func(v *model.PromptVariant) {
		v.IsActive = true
		v.IsBaseline = true
		v.TrafficPercentage = 100
	}
}

// WithScore 设置总分
func WithScore(score float64) VariantOption {
	return func(v *model.PromptVariant) {
		v.OverallScore = score
	}
}

// WithContent 设置模板内容
func WithContent(content string) VariantOption {
	return func(v *model.PromptVariant) {
		v.Content = content
	}
}

// WithLanguage 设置语言
func WithLanguage(language string) VariantOption {
	return func(v *model.PromptVariant) {
		v.Language = language
	}
}

// NewVariant 构造测试变体（未写入数据库）
func NewVariant(promptName, version, variantID string, opts ...VariantOption) *model.PromptVariant {
	v := &model.PromptVariant{
		PromptName:       promptName,
		Version:          version,
		VariantID:        variantID,
		Content:          "Classify the message: {{msg}}",
		PromptType:       model.PromptTypeUser,
		Language:         "en",
		GenerationMethod: model.GenerationManual,
		Tags:             model.StringList{"test"},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CreateVariant 构造并写入测试变体
func CreateVariant(t *testing.T, db *gorm.DB, promptName, version, variantID string, opts ...VariantOption) *model.PromptVariant {
	t.Helper()
	v := NewVariant(promptName, version, variantID, opts...)
	if err := db.WithContext(context.Background()).Create(v).Error; err != nil {
		t.Fatalf("create variant %s/%s/%s: %v", promptName, version, variantID, err)
	}
	return v
}

// ReloadVariant 重新读取变体
func ReloadVariant(t *testing.T, db *gorm.DB, id string) *model.PromptVariant {
	t.Helper()
	var v model.PromptVariant
	if err := db.Where("id = ?", id).First(&v).Error; err != nil {
		t.Fatalf("reload variant %s: %v", id, err)
	}
	return &v
}

// CompleteOutput 返回一个字段齐全且合法的推理输出
func CompleteOutput() *model.Output {
	return &model.Output{
		Intent:          model.StringPtr("X"),
		Tone:            model.StringPtr("Y"),
		Urgency:         model.StringPtr("High"),
		ConfidenceScore: model.Float64Ptr(0.9),
	}
}
