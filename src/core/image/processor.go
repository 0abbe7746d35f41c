package image

import (
	"context"
	"fmt"
	"sync/atomic"

	"medibot-server-go/src/configs"
	"medibot-server-go/src/core/utils"
)

// ImageProcessor 图片处理器
// 负责校验并归一化进入多模态调用的base64图片数据
type ImageProcessor struct {
	config    *configs.VLLMConfig
	validator *ImageSecurityValidator
	logger    *utils.Logger
	metrics   *ImageMetrics
}

// NewImageProcessor 创建新的图片处理器
func NewImageProcessor(config *configs.VLLMConfig, logger *utils.Logger) (*ImageProcessor, error) {
	validator := NewImageSecurityValidator(&config.Security, logger)

	return &ImageProcessor{
		config:    config,
		validator: validator,
		logger:    logger,
		metrics:   &ImageMetrics{},
	}, nil
}

// ProcessImage 校验图片数据，返回可直接进入data URI的base64字符串
func (p *ImageProcessor) ProcessImage(ctx context.Context, imageData ImageData) (string, error) {
	atomic.AddInt64(&p.metrics.TotalProcessed, 1)

	if imageData.Data == "" {
		atomic.AddInt64(&p.metrics.FailedValidations, 1)
		return "", fmt.Errorf("缺少图片数据")
	}

	result := p.validator.ValidateImageData(imageData)
	if !result.IsValid {
		atomic.AddInt64(&p.metrics.FailedValidations, 1)
		if result.SecurityRisk != "" {
			atomic.AddInt64(&p.metrics.SecurityIncidents, 1)
			p.logger.Warn("图片校验发现安全风险", map[string]interface{}{
				"risk":   result.SecurityRisk,
				"format": imageData.Format,
			})
		}
		return "", fmt.Errorf("图片验证失败: %v", result.Error)
	}

	p.logger.Debug("图片验证成功", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return imageData.Data, nil
}

// GetMetrics 获取处理统计信息
func (p *ImageProcessor) GetMetrics() ImageMetrics {
	return ImageMetrics{
		TotalProcessed:    atomic.LoadInt64(&p.metrics.TotalProcessed),
		FailedValidations: atomic.LoadInt64(&p.metrics.FailedValidations),
		SecurityIncidents: atomic.LoadInt64(&p.metrics.SecurityIncidents),
	}
}

// Cleanup 清理资源
func (p *ImageProcessor) Cleanup() error {
	return nil
}
