package registry

import (
	"encoding/json"
	"regexp"

	"github.com/ashwinyue/next-prompt/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Render 用输入替换模板中的 {{key}} 占位符
// 字符串原样替换，其他值按 JSON 编码；未知占位符保持不变
func Render(v *model.PromptVariant, input map[string]interface{}) string {
	return RenderContent(v.Content, input)
}

// RenderContent 渲染模板内容
func RenderContent(content string, input map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := input[key]
		if !ok {
			return match
		}
		switch val := value.(type) {
		case string:
			return val
		case nil:
			return ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return match
			}
			return string(b)
		}
	})
}
