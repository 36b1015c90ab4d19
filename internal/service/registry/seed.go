package registry

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// SeedFile 种子文件结构
type SeedFile struct {
	Variants []SeedVariant `yaml:"variants"`
}

// SeedVariant 种子文件中的单个变体
type SeedVariant struct {
	PromptName           string                 `yaml:"prompt_name"`
	Version              string                 `yaml:"version"`
	VariantID            string                 `yaml:"variant_id"`
	Content              string                 `yaml:"content"`
	PromptType           string                 `yaml:"prompt_type"`
	Language             string                 `yaml:"language"`
	OptimizationStrategy string                 `yaml:"optimization_strategy"`
	ParentVersion        string                 `yaml:"parent_version"`
	GenerationMethod     string                 `yaml:"generation_method"`
	IsBaseline           bool                   `yaml:"is_baseline"`
	IsActive             bool                   `yaml:"is_active"`
	TrafficPercentage    float64                `yaml:"traffic_percentage"`
	Tags                 []string               `yaml:"tags"`
	Metadata             map[string]interface{} `yaml:"metadata"`
}

// SeedReport 种子导入结果
type SeedReport struct {
	Registered int `json:"registered"`
	Duplicates int `json:"duplicates"`
}

// LoadSeedFile 读取 yaml 种子文件
func LoadSeedFile(path string) ([]*model.PromptVariant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed 解析 yaml 种子数据
func ParseSeed(data []byte) ([]*model.PromptVariant, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	variants := make([]*model.PromptVariant, 0, len(file.Variants))
	for _, sv := range file.Variants {
		variants = append(variants, &model.PromptVariant{
			PromptName:           sv.PromptName,
			Version:              sv.Version,
			VariantID:            sv.VariantID,
			Content:              sv.Content,
			PromptType:           model.PromptType(sv.PromptType),
			Language:             sv.Language,
			OptimizationStrategy: sv.OptimizationStrategy,
			ParentVersion:        sv.ParentVersion,
			GenerationMethod:     model.GenerationMethod(sv.GenerationMethod),
			IsBaseline:           sv.IsBaseline,
			IsActive:             sv.IsActive,
			TrafficPercentage:    sv.TrafficPercentage,
			Tags:                 model.StringList(sv.Tags),
			Metadata:             model.JSON(sv.Metadata),
		})
	}
	return variants, nil
}

// Seed 幂等导入变体，重复变体只记录日志
func (s *Service) Seed(ctx context.Context, variants []*model.PromptVariant) (*SeedReport, error) {
	report := &SeedReport{}
	for _, v := range variants {
		_, err := s.Register(ctx, v)
		switch {
		case err == nil:
			report.Registered++
		case IsDuplicate(err):
			report.Duplicates++
			s.logger.Info("DuplicateVariant",
				zap.String("prompt_name", v.PromptName),
				zap.String("version", v.Version),
				zap.String("variant_id", v.VariantID),
			)
		default:
			return report, fmt.Errorf("seed %s@%s/%s: %w", v.PromptName, v.Version, v.VariantID, err)
		}
	}
	return report, nil
}
