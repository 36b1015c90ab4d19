package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// ChatCompletionServer 模拟 OpenAI 兼容的 chat/completions 接口
type ChatCompletionServer struct {
	*httptest.Server
	reply    string
	requests atomic.Int64
}

// NewChatCompletionServer 创建返回固定回复的模拟服务器，测试结束时自动关闭
func NewChatCompletionServer(t *testing.T, reply string) *ChatCompletionServer {
	t.Helper()
	s := &ChatCompletionServer{reply: reply}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// BaseURL 返回 OpenAI 客户端使用的 base url
func (s *ChatCompletionServer) BaseURL() string {
	return s.URL + "/v1"
}

// Requests 返回收到的请求数
func (s *ChatCompletionServer) Requests() int64 {
	return s.requests.Load()
}

func (s *ChatCompletionServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	s.requests.Add(1)

	resp := map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test-model",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": s.reply,
				},
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     10,
			"completion_tokens": 10,
			"total_tokens":      20,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
