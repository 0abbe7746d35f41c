package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medibot-server-go/src/core/providers"
	"medibot-server-go/src/core/providers/llm"

	"github.com/sashabaranov/go-openai"
)

// Provider Ollama LLM提供者，走OpenAI兼容接口
type Provider struct {
	*llm.BaseProvider
	client *openai.Client
}

// 注册提供者
func init() {
	llm.Register("ollama", NewProvider)
}

// NewProvider 创建Ollama提供者
func NewProvider(config *llm.Config) (llm.Provider, error) {
	return &Provider{
		BaseProvider: llm.NewBaseProvider(config),
	}, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	config := p.Config()
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	// 确保URL以/v1结尾
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL = baseURL + "/v1"
	}

	// Ollama不需要真正的API key，但openai客户端需要一个值
	clientConfig := openai.DefaultConfig("ollama")
	clientConfig.BaseURL = baseURL
	p.client = openai.NewClientWithConfig(clientConfig)

	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// Response llm.Provider接口实现
func (p *Provider) Response(ctx context.Context, messages []providers.Message) (string, error) {
	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       p.Config().ModelName,
			Messages:    chatMessages,
			MaxTokens:   p.Config().MaxTokens,
			Temperature: float32(p.Config().Temperature),
		},
	)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", providers.NewAPIError(apiErr.Message)
		}
		return "", providers.NewNetworkError(fmt.Errorf("ollama: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", providers.NewAPIError("")
	}

	return resp.Choices[0].Message.Content, nil
}
