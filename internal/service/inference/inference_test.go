package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/next-prompt/internal/config"
	domain "github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/testutil"
)

// ========== Mock ChatModel ==========

type mockChatModel struct {
	reply    string
	err      error
	messages []*schema.Message
}

func (m *mockChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *mockChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *domain.Output
		wantNil bool
	}{
		{
			name: "plain json",
			raw:  `{"intent":"X","tone":"Y","urgency":"High","confidence_score":0.9}`,
			want: testutil.CompleteOutput(),
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"intent\":\"X\",\"tone\":\"Y\",\"urgency\":\"High\",\"confidence_score\":0.9}\n```",
			want: testutil.CompleteOutput(),
		},
		{
			name: "surrounding text",
			raw:  `Here is the result: {"intent":"X","urgency":"Low"} hope it helps`,
			want: &domain.Output{Intent: domain.StringPtr("X"), Urgency: domain.StringPtr("Low")},
		},
		{
			name: "trailing comma",
			raw:  `{"intent":"X","tone":"Y",}`,
			want: &domain.Output{Intent: domain.StringPtr("X"), Tone: domain.StringPtr("Y")},
		},
		{
			name:    "not json",
			raw:     "I cannot help with that",
			wantNil: true,
		},
		{
			name: "wrong field type",
			raw:  `{"intent":"X","tone":"Y","urgency":"High","confidence_score":"0.9"}`,
			want: &domain.Output{
				Intent:  domain.StringPtr("X"),
				Tone:    domain.StringPtr("Y"),
				Urgency: domain.StringPtr("High"),
				Invalid: map[string]interface{}{"confidence_score": "0.9"},
			},
		},
		{
			name:    "json array",
			raw:     `["intent","tone"]`,
			wantNil: true,
		},
		{
			name:    "empty",
			raw:     "  ",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOutput(tt.raw)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatModelClient_Invoke(t *testing.T) {
	chatModel := &mockChatModel{reply: `{"intent":"X","tone":"Y","urgency":"High","confidence_score":0.9}`}
	client := NewChatModelClient(chatModel)

	resp, err := client.Invoke(context.Background(), "Classify the message: urgent request", map[string]interface{}{"msg": "urgent request"})
	require.NoError(t, err)
	assert.Equal(t, testutil.CompleteOutput(), resp.Output)
	assert.Equal(t, chatModel.reply, resp.Raw)

	require.Len(t, chatModel.messages, 2)
	assert.Equal(t, schema.System, chatModel.messages[0].Role)
	assert.Equal(t, schema.User, chatModel.messages[1].Role)
	assert.True(t, strings.HasPrefix(chatModel.messages[1].Content, "Classify the message: urgent request"))
	assert.Contains(t, chatModel.messages[1].Content, `"msg":"urgent request"`)
}

func TestChatModelClient_InvokeUnparseable(t *testing.T) {
	client := NewChatModelClient(&mockChatModel{reply: "sorry"})

	resp, err := client.Invoke(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Output)
	assert.Equal(t, "sorry", resp.Raw)
}

func TestChatModelClient_InvokeError(t *testing.T) {
	client := NewChatModelClient(&mockChatModel{err: errors.New("rate limited")})

	_, err := client.Invoke(context.Background(), "hello", nil)
	require.ErrorIs(t, err, domain.ErrInferenceFailure)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestNewChatModel(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AIConfig
		wantErr string
	}{
		{
			name:    "unsupported provider",
			cfg:     config.AIConfig{Provider: "unknown"},
			wantErr: "unsupported ai provider",
		},
		{
			name:    "missing api key",
			cfg:     config.AIConfig{Provider: "deepseek"},
			wantErr: "api_key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChatModel(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewChatModel_AgainstCompatibleServer(t *testing.T) {
	server := testutil.NewChatCompletionServer(t, "```json\n{\"intent\":\"X\",\"tone\":\"Y\",\"urgency\":\"High\",\"confidence_score\":0.9}\n```")

	chatModel, err := NewChatModel(context.Background(), config.AIConfig{
		Provider:    "openai",
		Temperature: 0,
		OpenAI: config.ModelProviderConfig{
			APIKey:  "test-key",
			BaseURL: server.BaseURL(),
			Model:   "test-model",
			Timeout: 5,
		},
	})
	require.NoError(t, err)

	resp, err := NewChatModelClient(chatModel).Invoke(context.Background(), "Classify the message: hi", nil)
	require.NoError(t, err)
	assert.Equal(t, testutil.CompleteOutput(), resp.Output)
	assert.EqualValues(t, 1, server.Requests())
}
