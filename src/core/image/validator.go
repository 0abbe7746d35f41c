package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"medibot-server-go/src/configs"
	"medibot-server-go/src/core/utils"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// 校验默认值，配置未给出时生效
const (
	defaultMaxFileSize = 16 * 1024 * 1024 // 16MiB，与原有客户端约定一致
	defaultMaxWidth    = 10000
	defaultMaxHeight   = 10000
	defaultMaxPixels   = 64 * 1024 * 1024
)

var defaultAllowedFormats = []string{"jpeg", "jpg", "png", "gif", "bmp", "webp"}

// ImageSecurityValidator 图片安全验证器
type ImageSecurityValidator struct {
	config *configs.SecurityConfig
	logger *utils.Logger
}

// NewImageSecurityValidator 创建新的图片安全验证器
func NewImageSecurityValidator(config *configs.SecurityConfig, logger *utils.Logger) *ImageSecurityValidator {
	cfg := *config
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = defaultMaxWidth
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = defaultMaxHeight
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = defaultMaxPixels
	}
	if len(cfg.AllowedFormats) == 0 {
		cfg.AllowedFormats = defaultAllowedFormats
	}

	return &ImageSecurityValidator{
		config: &cfg,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
}

// MaxFileSize 当前生效的文件大小上限
func (v *ImageSecurityValidator) MaxFileSize() int64 {
	return v.config.MaxFileSize
}

// ValidateImageData 验证base64图片数据
func (v *ImageSecurityValidator) ValidateImageData(imageData ImageData) ValidationResult {
	result := ValidationResult{IsValid: false}

	if imageData.Data == "" {
		result.Error = fmt.Errorf("缺少图片数据")
		return result
	}

	imageBytes, err := base64.StdEncoding.DecodeString(imageData.Data)
	if err != nil {
		result.Error = fmt.Errorf("base64解码失败: %v", err)
		result.SecurityRisk = "无效的base64数据"
		return result
	}

	return v.ValidateBytes(imageBytes, imageData.Format)
}

// ValidateBytes 验证原始图片字节
func (v *ImageSecurityValidator) ValidateBytes(data []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false}

	// 1. 基础大小检查
	if int64(len(data)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("文件大小超限: %d bytes，最大允许: %d bytes", len(data), v.config.MaxFileSize)
		result.SecurityRisk = "文件过大"
		return result
	}

	if len(data) == 0 {
		result.Error = fmt.Errorf("图片数据为空")
		return result
	}

	// 2. 格式支持检查
	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("不支持的格式: %s", declaredFormat)
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	// 3. 恶意内容检测
	if v.config.EnableDeepScan && v.scanForMaliciousContent(data) {
		result.Error = fmt.Errorf("检测到潜在恶意内容")
		result.SecurityRisk = "可能包含恶意载荷"
		return result
	}

	// 4. 解码验证，这是最可靠的校验方式
	decodeResult := v.validateImageDecoding(data, declaredFormat)
	if !decodeResult.IsValid && declaredFormat != "" && !v.validateFileSignature(data, declaredFormat) {
		v.logger.Warn("文件头验证失败且无法解码", map[string]interface{}{
			"declared_format": declaredFormat,
			"actual_header":   fmt.Sprintf("%x", data[:min(len(data), 16)]),
		})
	}

	return decodeResult
}

// DetectFormat 根据魔数推断图片格式，未知时返回jpeg
func DetectFormat(data []byte) string {
	for _, format := range []string{"png", "gif", "bmp", "webp", "jpeg"} {
		signature := imageSignatures[format]
		if len(data) >= len(signature) && bytes.HasPrefix(data, signature) {
			if format == "webp" {
				if len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")) {
					return "webp"
				}
				continue
			}
			return format
		}
	}
	return "jpeg"
}

// validateFileSignature 验证文件头签名
func (v *ImageSecurityValidator) validateFileSignature(data []byte, format string) bool {
	signature, exists := imageSignatures[strings.ToLower(format)]
	if !exists {
		return false
	}

	if !bytes.HasPrefix(data, signature) {
		return false
	}

	// WEBP需要额外验证
	if strings.ToLower(format) == "webp" {
		return len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP"))
	}

	return true
}

// isFormatAllowed 检查格式是否被允许
func (v *ImageSecurityValidator) isFormatAllowed(format string) bool {
	formatLower := strings.ToLower(strings.TrimPrefix(format, "image/"))
	for _, allowedFormat := range v.config.AllowedFormats {
		if strings.ToLower(allowedFormat) == formatLower {
			return true
		}
	}
	return false
}

// scanForMaliciousContent 扫描恶意内容
// 能正常解码的图片只做最基本的检查
func (v *ImageSecurityValidator) scanForMaliciousContent(data []byte) bool {
	reader := bytes.NewReader(data)
	if _, _, err := image.DecodeConfig(reader); err == nil {
		return v.hasExecutableSignature(data, false) || v.hasSVGScripts(data)
	}

	return v.hasExecutableSignature(data, true) ||
		v.hasCompressionSignature(data) ||
		v.hasSVGScripts(data)
}

// hasExecutableSignature 检查文件开头的可执行文件签名
func (v *ImageSecurityValidator) hasExecutableSignature(data []byte, full bool) bool {
	signatures := [][]byte{
		{0x4D, 0x5A},             // PE文件头 (MZ)
		{0x7F, 0x45, 0x4C, 0x46}, // ELF文件头
	}
	names := []string{"PE", "ELF"}

	if full {
		signatures = append(signatures, []byte{0xCA, 0xFE, 0xBA, 0xBE}) // Mach-O文件头
		names = append(names, "Mach-O")
	}

	for i, signature := range signatures {
		if bytes.HasPrefix(data, signature) {
			v.logger.Warn("文件开头检测到可执行文件签名", map[string]interface{}{
				"signature_type": names[i],
			})
			return true
		}
	}
	return false
}

// hasCompressionSignature 检查文件开头的压缩文件签名
func (v *ImageSecurityValidator) hasCompressionSignature(data []byte) bool {
	signatures := [][]byte{
		{0x50, 0x4B, 0x03, 0x04}, // ZIP文件头
		{0x1F, 0x8B, 0x08},       // GZIP文件头
	}
	names := []string{"ZIP", "GZIP"}

	for i, signature := range signatures {
		if bytes.HasPrefix(data, signature) {
			v.logger.Warn("文件开头检测到压缩文件签名", map[string]interface{}{
				"signature_type": names[i],
			})
			return true
		}
	}
	return false
}

// hasSVGScripts 检查SVG文件中的脚本内容
func (v *ImageSecurityValidator) hasSVGScripts(data []byte) bool {
	dataStr := strings.ToLower(string(data))
	if !strings.Contains(dataStr, "<svg") {
		return false
	}

	suspiciousStrings := []string{
		"<script",
		"javascript:",
		"vbscript:",
		"onload=",
		"onerror=",
		"eval(",
		"document.cookie",
		"window.location",
		"<iframe",
		"<object",
		"<embed",
	}

	for _, suspicious := range suspiciousStrings {
		if strings.Contains(dataStr, suspicious) {
			v.logger.Warn("在SVG中检测到可疑脚本内容", map[string]interface{}{
				"suspicious_content": suspicious,
			})
			return true
		}
	}

	return false
}

// validateImageDecoding 验证图片解码
func (v *ImageSecurityValidator) validateImageDecoding(data []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}
	reader := bytes.NewReader(data)

	config, actualFormat, err := image.DecodeConfig(reader)
	if err != nil {
		result.Error = fmt.Errorf("图片解码失败: %v", err)
		result.SecurityRisk = "可能包含恶意载荷或损坏的图片数据"
		return result
	}

	if actualFormat != "" {
		result.Format = actualFormat
	}

	// 检查尺寸限制
	if config.Width > v.config.MaxWidth || config.Height > v.config.MaxHeight {
		result.Error = fmt.Errorf("图片尺寸超限: %dx%d，最大允许: %dx%d",
			config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "图片过大，可能消耗过多资源"
		return result
	}

	// 检查像素总数
	totalPixels := int64(config.Width) * int64(config.Height)
	if totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	return result
}
