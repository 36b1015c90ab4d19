package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/ashwinyue/next-prompt/internal/config"
)

// NewChatModel 按配置创建 ChatModel
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.ToolCallingChatModel, error) {
	var provider config.ModelProviderConfig

	switch cfg.Provider {
	case "openai":
		provider = cfg.OpenAI
	case "deepseek":
		provider = cfg.DeepSeek
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	if provider.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for provider: %s", cfg.Provider)
	}

	modelName := provider.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	temperature := cfg.Temperature

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      provider.APIKey,
		BaseURL:     provider.BaseURL,
		Model:       modelName,
		Timeout:     time.Duration(provider.Timeout) * time.Second,
		Temperature: &temperature,
	})
}
