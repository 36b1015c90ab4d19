package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	domain "github.com/ashwinyue/next-prompt/internal/model"
)

// 内置进化策略
const (
	StrategyFewShot          = "few_shot_enhancement"
	StrategyRoleImprovement  = "role_improvement"
	StrategyContextExpansion = "context_expansion"
	StrategyModelRewrite     = "model_rewrite"
	StrategyOptimizationHint = "optimization_hint"
)

const (
	fewShotExamples = "\n\nExamples:\n" +
		"- High urgency: \"We need this implemented ASAP\"\n" +
		"- Medium urgency: \"Looking to implement in the next quarter\"\n" +
		"- Low urgency: \"Just exploring options\""
	rolePhrase       = "You are an AI growth analyst"
	expertRole       = "You are an expert AI growth analyst with deep experience in lead qualification and business intelligence"
	contextExpansion = "\n\nConsider the business context, industry trends, and typical lead behavior patterns in your analysis."
	optimizationHint = "\n\nFocus on accuracy and consistency in your analysis."
)

// Strategy 根据父变体内容生成新内容
type Strategy func(ctx context.Context, parent *domain.PromptVariant, feedback map[string]interface{}) (string, error)

func builtinStrategies() map[string]Strategy {
	return map[string]Strategy{
		StrategyFewShot:          appendText(fewShotExamples),
		StrategyRoleImprovement:  improveRole,
		StrategyContextExpansion: appendText(contextExpansion),
		StrategyOptimizationHint: appendText(optimizationHint),
	}
}

func appendText(suffix string) Strategy {
	return func(_ context.Context, parent *domain.PromptVariant, _ map[string]interface{}) (string, error) {
		return parent.Content + suffix, nil
	}
}

// improveRole 强化角色描述，内容中没有角色句时在开头补充
func improveRole(_ context.Context, parent *domain.PromptVariant, _ map[string]interface{}) (string, error) {
	if strings.Contains(parent.Content, rolePhrase) {
		return strings.Replace(parent.Content, rolePhrase, expertRole, 1), nil
	}
	return expertRole + ".\n\n" + parent.Content, nil
}

const rewriteSystemPrompt = `You improve prompt templates used for structured message enrichment.
Rewrite the template you are given so that the model produces more accurate and consistent JSON output.
Keep every {{placeholder}} exactly as written.
Return ONLY the rewritten template, no explanation.`

// modelRewrite 由 ChatModel 结合反馈改写内容
func modelRewrite(chatModel model.BaseChatModel) Strategy {
	return func(ctx context.Context, parent *domain.PromptVariant, feedback map[string]interface{}) (string, error) {
		var sb strings.Builder
		sb.WriteString("Template:\n")
		sb.WriteString(parent.Content)
		if len(feedback) > 0 {
			b, err := json.Marshal(feedback)
			if err != nil {
				return "", fmt.Errorf("encode feedback: %w", err)
			}
			sb.WriteString("\n\nFeedback:\n")
			sb.Write(b)
		}

		resp, err := chatModel.Generate(ctx, []*schema.Message{
			schema.SystemMessage(rewriteSystemPrompt),
			schema.UserMessage(sb.String()),
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInferenceFailure, err)
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return "", errors.New("model rewrite returned empty content")
		}
		return strings.TrimSpace(resp.Content), nil
	}
}
