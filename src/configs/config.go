package configs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Web struct {
		Port    int    `yaml:"port"`
		Prefix  string `yaml:"prefix"`  // 网关挂载前缀，如 medibot-api
		Referer string `yaml:"referer"` // OpenRouter HTTP-Referer 头
		Title   string `yaml:"title"`   // OpenRouter X-Title 头
	} `yaml:"web"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	// 系统提示词，为空时使用内置的医学影像助手提示词
	DefaultPrompt string `yaml:"prompt"`

	SelectedModule map[string]string `yaml:"selected_module"`

	LLM   map[string]LLMConfig  `yaml:"LLM"`
	VLLLM map[string]VLLMConfig `yaml:"VLLLM"`
}

// LLMConfig 文本模型配置结构
type LLMConfig struct {
	Type        string                 `yaml:"type"`
	ModelName   string                 `yaml:"model_name"`
	BaseURL     string                 `yaml:"url"`
	APIKey      string                 `yaml:"api_key"`
	Temperature float64                `yaml:"temperature"`
	MaxTokens   int                    `yaml:"max_tokens"`
	TopP        float64                `yaml:"top_p"`
	Timeout     int                    `yaml:"timeout"` // 上游调用超时（秒），默认30
	Extra       map[string]interface{} `yaml:",inline"`
}

// SecurityConfig 上传图片校验配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`    // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`       // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`        // 最大宽度
	MaxHeight      int      `yaml:"max_height"`       // 最大高度
	AllowedFormats []string `yaml:"allowed_formats"`  // 允许的图片格式
	EnableDeepScan bool     `yaml:"enable_deep_scan"` // 启用深度安全扫描
}

// VLLMConfig 多模态模型配置结构（视觉语言大模型）
type VLLMConfig struct {
	Type        string                 `yaml:"type"`
	ModelName   string                 `yaml:"model_name"`
	BaseURL     string                 `yaml:"url"`
	APIKey      string                 `yaml:"api_key"`
	Temperature float64                `yaml:"temperature"`
	MaxTokens   int                    `yaml:"max_tokens"`
	TopP        float64                `yaml:"top_p"`
	Timeout     int                    `yaml:"timeout"`
	Security    SecurityConfig         `yaml:"security"`
	Extra       map[string]interface{} `yaml:",inline"`
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	applyEnvOverrides(config)

	if err := validate(config); err != nil {
		return nil, path, err
	}

	return config, path, nil
}

// applyEnvOverrides 配置文件中留空的api_key从环境变量补齐
func applyEnvOverrides(config *Config) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return
	}

	for name, llm := range config.LLM {
		if llm.APIKey == "" {
			llm.APIKey = apiKey
			config.LLM[name] = llm
		}
	}
	for name, vlllm := range config.VLLLM {
		if vlllm.APIKey == "" {
			vlllm.APIKey = apiKey
			config.VLLLM[name] = vlllm
		}
	}
}

// validate 启动期校验：选中的模块必须存在，openai类型必须有密钥
// 密钥缺失直接启动失败，不允许回退到任何内置默认值
func validate(config *Config) error {
	selectedLLM := config.SelectedModule["LLM"]
	if selectedLLM == "" {
		return fmt.Errorf("selected_module 缺少 LLM 配置")
	}
	llm, ok := config.LLM[selectedLLM]
	if !ok {
		return fmt.Errorf("LLM 配置 %s 不存在", selectedLLM)
	}
	if llm.Type == "openai" && llm.APIKey == "" {
		return fmt.Errorf("LLM %s 缺少 api_key，请在配置文件或环境变量 OPENROUTER_API_KEY 中设置", selectedLLM)
	}

	selectedVLLLM := config.SelectedModule["VLLLM"]
	if selectedVLLLM == "" {
		return fmt.Errorf("selected_module 缺少 VLLLM 配置")
	}
	vlllm, ok := config.VLLLM[selectedVLLLM]
	if !ok {
		return fmt.Errorf("VLLLM 配置 %s 不存在", selectedVLLLM)
	}
	if vlllm.Type == "openai" && vlllm.APIKey == "" {
		return fmt.Errorf("VLLLM %s 缺少 api_key，请在配置文件或环境变量 OPENROUTER_API_KEY 中设置", selectedVLLLM)
	}

	return nil
}
