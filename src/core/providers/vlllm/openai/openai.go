package openai

import (
	"medibot-server-go/src/core/providers/vlllm"
	"medibot-server-go/src/core/utils"
)

// NewProvider 创建OpenAI类型的VLLLM提供者实例
// 基础Provider已经覆盖OpenAI兼容接口，这里只做注册
func NewProvider(config *vlllm.Config, logger *utils.Logger) (*vlllm.Provider, error) {
	provider, err := vlllm.NewProvider(config, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("OpenAI VLLLM Provider创建成功", map[string]interface{}{
		"model_name": config.ModelName,
		"base_url":   config.BaseURL,
	})

	return provider, nil
}

// init 注册OpenAI VLLLM提供者
func init() {
	vlllm.Register("openai", NewProvider)
}
