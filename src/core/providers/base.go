package providers

import "fmt"

// Provider 所有提供者的基础接口
type Provider interface {
	Initialize() error
	Cleanup() error
}

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrorKind 上游错误分类
type ErrorKind string

const (
	// ErrKindAPI 上游返回了明确的错误载荷（无choices）
	ErrKindAPI ErrorKind = "api"
	// ErrKindNetwork HTTP调用本身失败（DNS、超时、连接重置等）
	ErrKindNetwork ErrorKind = "network"
)

// UpstreamError 上游模型调用的结构化错误
// 调用方通过Kind区分错误来源，Error()保持与旧版客户端兼容的前缀格式
type UpstreamError struct {
	Kind    ErrorKind
	Message string
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case ErrKindAPI:
		return fmt.Sprintf("API Error: %s", e.Message)
	case ErrKindNetwork:
		return fmt.Sprintf("Network error: %s", e.Message)
	default:
		return e.Message
	}
}

// NewAPIError 构造API类错误，空消息归一为Unknown error
func NewAPIError(message string) *UpstreamError {
	if message == "" {
		message = "Unknown error"
	}
	return &UpstreamError{Kind: ErrKindAPI, Message: message}
}

// NewNetworkError 构造网络类错误
func NewNetworkError(err error) *UpstreamError {
	return &UpstreamError{Kind: ErrKindNetwork, Message: err.Error()}
}
