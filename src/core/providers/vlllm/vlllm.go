package vlllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medibot-server-go/src/configs"
	"medibot-server-go/src/core/image"
	"medibot-server-go/src/core/providers"
	"medibot-server-go/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

// Config VLLLM配置结构
type Config struct {
	Type        string
	ModelName   string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	TopP        float64
	Timeout     int
	Referer     string
	Title       string
	Security    configs.SecurityConfig
	Data        map[string]interface{}
}

// Provider VLLLM提供者，直接处理多模态API
type Provider struct {
	config         *Config
	imageProcessor *image.ImageProcessor
	logger         *utils.Logger

	openaiClient *openai.Client // 用于OpenAI类型
	httpClient   *http.Client   // 用于Ollama类型
}

// OllamaRequest Ollama API请求结构
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaMessage Ollama消息结构
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64编码的图片
}

// OllamaResponse Ollama API响应结构
type OllamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewProvider 创建新的VLLLM提供者
func NewProvider(config *Config, logger *utils.Logger) (*Provider, error) {
	vlllmConfig := &configs.VLLMConfig{
		Type:        config.Type,
		ModelName:   config.ModelName,
		BaseURL:     config.BaseURL,
		APIKey:      config.APIKey,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
		TopP:        config.TopP,
		Security:    config.Security,
	}

	// 创建图片处理器
	imageProcessor, err := image.NewImageProcessor(vlllmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("创建图片处理器失败: %v", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	return &Provider{
		config:         config,
		imageProcessor: imageProcessor,
		logger:         logger,
		httpClient:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

// Initialize 初始化Provider
func (p *Provider) Initialize() error {
	switch strings.ToLower(p.config.Type) {
	case "openai":
		if p.config.APIKey == "" {
			return fmt.Errorf("OpenAI API key is required")
		}

		clientConfig := openai.DefaultConfig(p.config.APIKey)
		if p.config.BaseURL != "" {
			clientConfig.BaseURL = p.config.BaseURL
		}
		clientConfig.HTTPClient = &http.Client{
			Timeout: p.httpClient.Timeout,
			Transport: &attributionTransport{
				base:    http.DefaultTransport,
				referer: p.config.Referer,
				title:   p.config.Title,
			},
		}
		p.openaiClient = openai.NewClientWithConfig(clientConfig)

	case "ollama":
		// Ollama不需要API key，只需要确保有BaseURL
		if p.config.BaseURL == "" {
			p.config.BaseURL = "http://localhost:11434"
		}

	default:
		return fmt.Errorf("不支持的VLLLM类型: %s", p.config.Type)
	}

	p.logger.Debug("VLLLM Provider初始化成功", map[string]interface{}{
		"type":       p.config.Type,
		"model_name": p.config.ModelName,
	})

	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	if err := p.imageProcessor.Cleanup(); err != nil {
		p.logger.Warn(fmt.Sprintf("清理图片处理器失败: %v", err))
	}
	return nil
}

// ResponseWithImage 处理包含图片的请求 - 核心方法
// 单次调用，完整返回，失败时返回*providers.UpstreamError
func (p *Provider) ResponseWithImage(ctx context.Context, messages []providers.Message, imageData image.ImageData, text string) (string, error) {
	// 校验并归一化图片数据
	base64Image, err := p.imageProcessor.ProcessImage(ctx, imageData)
	if err != nil {
		return "", fmt.Errorf("图片处理失败: %v", err)
	}

	p.logger.Debug("开始调用多模态API", map[string]interface{}{
		"type":       p.config.Type,
		"model_name": p.config.ModelName,
		"image_size": len(base64Image),
	})

	switch strings.ToLower(p.config.Type) {
	case "openai":
		return p.responseWithOpenAIVision(ctx, messages, base64Image, text, imageData.Format)
	case "ollama":
		return p.responseWithOllamaVision(ctx, messages, base64Image, text)
	default:
		return "", fmt.Errorf("不支持的VLLLM类型: %s", p.config.Type)
	}
}

// BuildVisionMessage 构建包含图片的多模态用户消息
// 图片以data URI形式内嵌：data:image/<格式>;base64,<数据>
func BuildVisionMessage(text, base64Image, format string) openai.ChatCompletionMessage {
	if format == "" {
		format = "jpeg"
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: text,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:image/%s;base64,%s", format, base64Image),
				},
			},
		},
	}
}

// responseWithOpenAIVision 使用OpenAI兼容的Vision API
func (p *Provider) responseWithOpenAIVision(ctx context.Context, messages []providers.Message, base64Image string, text string, format string) (string, error) {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	for _, msg := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	chatMessages = append(chatMessages, BuildVisionMessage(text, base64Image, format))

	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}

	resp, err := p.openaiClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       p.config.ModelName,
			Messages:    chatMessages,
			MaxTokens:   maxTokens,
			Temperature: float32(p.config.Temperature),
			TopP:        float32(p.config.TopP),
		},
	)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			p.logger.Warn(fmt.Sprintf("Vision API返回错误: %s", apiErr.Message))
			return "", providers.NewAPIError(apiErr.Message)
		}
		p.logger.Warn(fmt.Sprintf("Vision API调用失败: %v", err))
		return "", providers.NewNetworkError(err)
	}

	if len(resp.Choices) == 0 {
		return "", providers.NewAPIError("")
	}

	return resp.Choices[0].Message.Content, nil
}

// responseWithOllamaVision 使用Ollama Vision API
func (p *Provider) responseWithOllamaVision(ctx context.Context, messages []providers.Message, base64Image string, text string) (string, error) {
	ollamaMessages := make([]OllamaMessage, 0, len(messages)+1)
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, OllamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	// Ollama需要纯base64，不需要data URL前缀
	ollamaMessages = append(ollamaMessages, OllamaMessage{
		Role:    "user",
		Content: text,
		Images:  []string{base64Image},
	})

	request := OllamaRequest{
		Model:    p.config.ModelName,
		Messages: ollamaMessages,
		Stream:   false,
		Options: map[string]interface{}{
			"temperature": p.config.Temperature,
			"top_p":       p.config.TopP,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("Ollama请求序列化失败: %v", err)
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimSuffix(p.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("创建Ollama请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", providers.NewNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", providers.NewAPIError(fmt.Sprintf("Ollama API返回错误: %d", resp.StatusCode))
	}

	var response OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", providers.NewNetworkError(err)
	}

	return response.Message.Content, nil
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

// GetImageMetrics 获取图片处理统计信息
func (p *Provider) GetImageMetrics() image.ImageMetrics {
	return p.imageProcessor.GetMetrics()
}

// GetConfig 获取配置信息
func (p *Provider) GetConfig() *Config {
	return p.config
}
