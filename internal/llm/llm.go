package llm

import "context"

// 对话角色常量，与 Chat Completions 协议保持一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System 构造系统消息。
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User 构造用户消息。
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant 构造助手消息。
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Backend 定义了调用大模型的统一接口。
type Backend interface {
	// Chat 发送完整对话并返回模型回复的文本内容。
	Chat(ctx context.Context, messages []Message) (string, error)
}

// BackendFunc 允许用函数充当后端，主要用于测试。
type BackendFunc func(ctx context.Context, messages []Message) (string, error)

// Chat 实现 Backend 接口。
func (f BackendFunc) Chat(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
