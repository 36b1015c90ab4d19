// Package inference 封装推理服务调用
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/kaptinlin/jsonrepair"

	domain "github.com/ashwinyue/next-prompt/internal/model"
)

// Inference 推理服务
type Inference interface {
	Invoke(ctx context.Context, content string, input map[string]interface{}) (*Response, error)
}

// Response 推理结果，Output 为 nil 表示回复无法解析
type Response struct {
	Output  *domain.Output
	Raw     string
	Latency time.Duration
}

// DefaultSystemPrompt 要求模型只输出 JSON
const DefaultSystemPrompt = `You are a message enrichment service.
Respond with a single JSON object and nothing else, using exactly these keys:
"intent" (string), "tone" (string), "urgency" (one of "Low", "Medium", "High"), "confidence_score" (number between 0 and 1).`

// ChatModelClient 基于 eino ChatModel 的推理客户端
type ChatModelClient struct {
	chatModel    model.BaseChatModel
	systemPrompt string
	handlers     []callbacks.Handler
}

// NewChatModelClient 创建推理客户端，handlers 在每次调用时注入
func NewChatModelClient(chatModel model.BaseChatModel, handlers ...callbacks.Handler) *ChatModelClient {
	return &ChatModelClient{
		chatModel:    chatModel,
		systemPrompt: DefaultSystemPrompt,
		handlers:     handlers,
	}
}

// Invoke 调用模型并解析结构化输出
func (c *ChatModelClient) Invoke(ctx context.Context, content string, input map[string]interface{}) (*Response, error) {
	messages := []*schema.Message{
		schema.SystemMessage(c.systemPrompt),
		schema.UserMessage(userContent(content, input)),
	}

	if len(c.handlers) > 0 {
		ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
			Name:      "prompt_inference",
			Component: components.ComponentOfChatModel,
		}, c.handlers...)
	}

	start := time.Now()
	resp, err := c.chatModel.Generate(ctx, messages)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInferenceFailure, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", domain.ErrInferenceFailure)
	}

	return &Response{
		Output:  ParseOutput(resp.Content),
		Raw:     resp.Content,
		Latency: latency,
	}, nil
}

// userContent 模板已替换的内容后附带原始输入
func userContent(content string, input map[string]interface{}) string {
	if len(input) == 0 {
		return content
	}
	b, err := json.Marshal(input)
	if err != nil {
		return content
	}
	return content + "\n\nInput data: " + string(b)
}

// ParseOutput 解析模型回复，无法解析时返回 nil
// 类型不符的字段保留在 Output.Invalid 中，由评分器判定一致性
func ParseOutput(raw string) *domain.Output {
	s := stripFences(raw)
	if s == "" {
		return nil
	}

	if i, j := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); i >= 0 && j > i {
		s = s[i : j+1]
	}

	if !json.Valid([]byte(s)) {
		repaired, err := jsonrepair.JSONRepair(s)
		if err != nil {
			return nil
		}
		s = repaired
	}

	var out domain.Output
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return &out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Unavailable 推理服务未配置时使用，所有调用均失败
type Unavailable struct {
	Err error
}

// Invoke 返回推理失败
func (u Unavailable) Invoke(ctx context.Context, content string, input map[string]interface{}) (*Response, error) {
	return nil, fmt.Errorf("%w: %w", domain.ErrInferenceFailure, u.Err)
}
