// Package callback 提供 Eino Callback 日志支持
package callback

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Logger 日志回调处理器
// 实现 callbacks.Handler 接口，记录模型调用的开始、结束和错误
type Logger struct {
	logger      *zap.Logger
	EnableDebug bool // 是否记录开始事件和回复内容
}

var _ callbacks.Handler = (*Logger)(nil)

// NewLogger 创建日志回调处理器
func NewLogger(logger *zap.Logger, enableDebug bool) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, EnableDebug: enableDebug}
}

// OnStart 组件执行开始时调用
func (l *Logger) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !l.EnableDebug {
		return ctx
	}
	fields := l.infoFields(info)
	if in := model.ConvCallbackInput(input); in != nil {
		fields = append(fields, zap.Int("messages", len(in.Messages)))
	}
	l.logger.Debug("model call started", fields...)
	return ctx
}

// OnEnd 组件执行成功结束时调用
func (l *Logger) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	fields := l.infoFields(info)
	if out := model.ConvCallbackOutput(output); out != nil {
		if out.TokenUsage != nil {
			fields = append(fields,
				zap.Int("prompt_tokens", out.TokenUsage.PromptTokens),
				zap.Int("completion_tokens", out.TokenUsage.CompletionTokens),
				zap.Int("total_tokens", out.TokenUsage.TotalTokens),
			)
		}
		if l.EnableDebug && out.Message != nil {
			fields = append(fields, zap.String("content", truncate(out.Message.Content)))
		}
	}
	l.logger.Debug("model call finished", fields...)
	return ctx
}

// OnError 组件执行出错时调用
func (l *Logger) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	l.logger.Warn("model call failed", append(l.infoFields(info), zap.Error(err))...)
	return ctx
}

// OnStartWithStreamInput 流式输入开始时调用
func (l *Logger) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

// OnEndWithStreamOutput 流式输出结束时调用
func (l *Logger) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	if l.EnableDebug {
		l.logger.Debug("model stream finished", l.infoFields(info)...)
	}
	return ctx
}

func (l *Logger) infoFields(info *callbacks.RunInfo) []zap.Field {
	if info == nil {
		return nil
	}
	return []zap.Field{
		zap.String("name", info.Name),
		zap.String("type", info.Type),
		zap.String("component", string(info.Component)),
	}
}

// truncate 截断过长的内容，避免日志过大
func truncate(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
