package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"medibot-server-go/src/core/providers"
	"medibot-server-go/src/core/providers/llm"

	"github.com/sashabaranov/go-openai"
)

// Provider OpenAI兼容接口的LLM提供者（OpenRouter等）
type Provider struct {
	*llm.BaseProvider
	client    *openai.Client
	maxTokens int
}

// 注册提供者
func init() {
	llm.Register("openai", NewProvider)
}

// NewProvider 创建OpenAI提供者
func NewProvider(config *llm.Config) (llm.Provider, error) {
	base := llm.NewBaseProvider(config)
	provider := &Provider{
		BaseProvider: base,
		maxTokens:    config.MaxTokens,
	}
	if provider.maxTokens <= 0 {
		provider.maxTokens = 800
	}

	return provider, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	config := p.Config()
	if config.APIKey == "" {
		return fmt.Errorf("missing OpenAI API key")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: time.Duration(timeout) * time.Second,
		Transport: &attributionTransport{
			base:    http.DefaultTransport,
			referer: config.Referer,
			title:   config.Title,
		},
	}

	p.client = openai.NewClientWithConfig(clientConfig)
	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	return nil
}

// Response llm.Provider接口实现，单次完整调用
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
			MaxTokens:   p.maxTokens,
			Temperature: float32(p.Config().Temperature),
			TopP:        float32(p.Config().TopP),
		},
	)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", providers.NewAPIError(apiErr.Message)
		}
		return "", providers.NewNetworkError(err)
	}

	if len(resp.Choices) == 0 {
		return "", providers.NewAPIError("")
	}

	return resp.Choices[0].Message.Content, nil
}

// attributionTransport 给每个请求追加OpenRouter归因头
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(req)
}
