package relay

import (
	"context"

	"medibot-server-go/src/core/image"
	"medibot-server-go/src/core/providers"

	"github.com/gin-gonic/gin"
)

// RelayService 定义中继服务接口
type RelayService interface {
	// 将中继的路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error
}

// TextModel 文本模型调用接口
type TextModel interface {
	Response(ctx context.Context, messages []providers.Message) (string, error)
}

// VisionModel 多模态模型调用接口
type VisionModel interface {
	ResponseWithImage(ctx context.Context, messages []providers.Message, imageData image.ImageData, text string) (string, error)
}

// ObjectDetector 对象检测接口
// 真正的视觉推理属于独立的外部服务，本服务只保留接口位置
type ObjectDetector interface {
	Detect(data []byte) []Detection
}

// StubDetector 占位检测器，始终返回空检测列表
type StubDetector struct{}

// Detect 返回空列表（非nil，序列化为JSON空数组）
func (StubDetector) Detect(data []byte) []Detection {
	return []Detection{}
}
