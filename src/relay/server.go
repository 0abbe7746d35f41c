package relay

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medibot-server-go/src/configs"
	"medibot-server-go/src/core/image"
	"medibot-server-go/src/core/prompts"
	"medibot-server-go/src/core/providers"
	"medibot-server-go/src/core/providers/llm"
	"medibot-server-go/src/core/providers/vlllm"
	"medibot-server-go/src/core/utils"
	"medibot-server-go/src/models"
	"medibot-server-go/src/task"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

//go:embed index.html
var indexPage []byte

// multipart边界与头部的预留量，叠加在文件大小上限之上作为请求体上限
const maxFormOverhead = 64 << 10

// DefaultRelayService 中继服务
// 接收上传/问答请求，构建模型请求并调用上游，统一各客户端的响应信封
type DefaultRelayService struct {
	logger *utils.Logger
	config *configs.Config
	db     *gorm.DB      // 可选的历史记录存储，nil时不落库
	tasks  *task.Manager // 历史落库的异步队列，nil时同步写

	textModel   TextModel
	visionModel VisionModel
	detector    ObjectDetector
	validator   *image.ImageSecurityValidator

	llmModelID   string // 纯文本问答使用的模型标识
	vlllmModelID string // 带图片请求使用的模型标识
	systemPrompt string
}

// NewDefaultRelayService 构造函数，根据selected_module创建上游提供者
func NewDefaultRelayService(config *configs.Config, logger *utils.Logger, db *gorm.DB, tasks *task.Manager) (*DefaultRelayService, error) {
	selectedLLM := config.SelectedModule["LLM"]
	llmConfig, ok := config.LLM[selectedLLM]
	if !ok {
		return nil, fmt.Errorf("LLM 配置 %s 不存在", selectedLLM)
	}

	textModel, err := llm.Create(llmConfig.Type, &llm.Config{
		Type:        llmConfig.Type,
		ModelName:   llmConfig.ModelName,
		BaseURL:     llmConfig.BaseURL,
		APIKey:      llmConfig.APIKey,
		Temperature: llmConfig.Temperature,
		MaxTokens:   llmConfig.MaxTokens,
		TopP:        llmConfig.TopP,
		Timeout:     llmConfig.Timeout,
		Referer:     config.Web.Referer,
		Title:       config.Web.Title,
		Extra:       llmConfig.Extra,
	})
	if err != nil {
		return nil, fmt.Errorf("创建LLM提供者失败: %v", err)
	}

	selectedVLLLM := config.SelectedModule["VLLLM"]
	vlllmConfig, ok := config.VLLLM[selectedVLLLM]
	if !ok {
		return nil, fmt.Errorf("VLLLM 配置 %s 不存在", selectedVLLLM)
	}

	visionModel, err := vlllm.Create(vlllmConfig.Type, &vlllmConfig, config.Web.Referer, config.Web.Title, logger)
	if err != nil {
		return nil, fmt.Errorf("创建VLLLM提供者失败: %v", err)
	}

	systemPrompt := config.DefaultPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.SystemPrompt
	}

	service := &DefaultRelayService{
		logger:       logger,
		config:       config,
		db:           db,
		tasks:        tasks,
		textModel:    textModel,
		visionModel:  visionModel,
		detector:     StubDetector{},
		validator:    image.NewImageSecurityValidator(&vlllmConfig.Security, logger),
		llmModelID:   llmConfig.ModelName,
		vlllmModelID: vlllmConfig.ModelName,
		systemPrompt: systemPrompt,
	}

	logger.Info(fmt.Sprintf("中继服务初始化成功, 文本模型: %s, 多模态模型: %s",
		service.llmModelID, service.vlllmModelID))

	return service, nil
}

// Start 实现 RelayService 接口，注册所有中继路由
// 同一逻辑路由同时挂在根路径和网关前缀下（如 /upload 与 /<prefix>/upload）
func (s *DefaultRelayService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	engine.Use(s.corsMiddleware())

	engine.GET("/", s.handleIndex)
	engine.GET("/test", s.handleTest)
	engine.POST("/upload", s.handleUpload)
	engine.POST("/query", s.handleQuery)

	if apiGroup != nil {
		// 分组在引擎之前创建时不会带上引擎级中间件，这里单独挂一遍
		apiGroup.Use(s.corsMiddleware())
		apiGroup.GET("", s.handleIndex)
		apiGroup.GET("/test", s.handleTest)
		apiGroup.POST("/upload", s.handleUpload)
		apiGroup.POST("/query", s.handleQuery)
	}

	engine.NoRoute(s.handleNotFound)

	s.logger.Info("中继HTTP服务路由注册完成")
	return nil
}

// corsMiddleware 给所有响应（包括404和错误）加上宽松的跨域头
// 本服务刻意不做来源白名单，也没有任何认证门槛
func (s *DefaultRelayService) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "*")
		c.Header("Access-Control-Allow-Methods", "*")

		// CORS预检请求直接放行，不进入任何业务逻辑
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// handleIndex 返回内嵌的单页客户端
func (s *DefaultRelayService) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

// handleTest 健康检查
func (s *DefaultRelayService) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, TestResponse{
		Status:    "Backend is working!",
		Platform:  "Go + Gin",
		MedicalAI: "OpenRouter + Gemini",
		Features:  []string{"Medical Image Analysis", "Clinical Consultation", "AI Diagnostics"},
	})
}

// handleNotFound 未匹配路由统一返回404
func (s *DefaultRelayService) handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

// handleUpload 处理图片上传分析
// 业务失败保持HTTP 200，由信封里的success/error字段表达（兼容既有客户端）
func (s *DefaultRelayService) handleUpload(c *gin.Context) {
	traceID := uuid.NewString()
	log := s.logger.WithTag("upload")

	// 请求体在解析multipart之前就加上限，超限的上传不会被完整缓冲
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.validator.MaxFileSize()+maxFormOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.respondUploadError(c, "File too large")
			return
		}
		// 浏览器提交空文件控件时，文件名为空的part会被解析成普通表单值
		if form := c.Request.MultipartForm; form != nil {
			if _, ok := form.Value["file"]; ok {
				s.respondUploadError(c, "No file selected")
				return
			}
		}
		s.respondUploadError(c, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.respondUploadError(c, "No file selected")
		return
	}

	if header.Size > s.validator.MaxFileSize() {
		s.respondUploadError(c, "File too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		log.Warn(fmt.Sprintf("读取上传文件失败: %v", err))
		s.respondUploadError(c, err.Error())
		return
	}

	if int64(len(data)) > s.validator.MaxFileSize() {
		s.respondUploadError(c, "File too large")
		return
	}

	declaredType := header.Header.Get("Content-Type")
	result := s.validator.ValidateBytes(data, strings.TrimPrefix(declaredType, "image/"))
	if !result.IsValid {
		log.Warn(fmt.Sprintf("图片校验失败: %v", result.Error), map[string]interface{}{
			"trace_id": traceID,
			"filename": header.Filename,
		})
		s.respondUploadError(c, "Invalid file type")
		return
	}

	format := result.Format
	if format == "" {
		format = image.DetectFormat(data)
	}
	if declaredType == "" {
		declaredType = "image/" + format
	}

	log.Debug("收到上传分析请求", map[string]interface{}{
		"trace_id": traceID,
		"filename": header.Filename,
		"format":   format,
		"size":     len(data),
	})

	now := time.Now()
	imageBase64 := base64.StdEncoding.EncodeToString(data)
	metadata := ImageMetadata{
		Filename:        header.Filename,
		Format:          declaredType,
		FileSizeBytes:   int64(len(data)),
		FileSizeMB:      FileSizeMB(int64(len(data))),
		UploadTimestamp: Timestamp(now),
		HasExif:         false,
	}

	detections := s.detector.Detect(data)

	messages := []providers.Message{
		{Role: "system", Content: s.systemPrompt},
	}
	analysis, err := s.visionModel.ResponseWithImage(c.Request.Context(), messages,
		image.ImageData{Data: imageBase64, Format: format}, prompts.AnalysisPrompt)
	if err != nil {
		log.Warn(fmt.Sprintf("上游模型调用失败: %v", err), map[string]interface{}{
			"trace_id": traceID,
		})
		s.respondUploadError(c, err.Error())
		return
	}

	s.saveAnalysisRecord(traceID, header.Filename, declaredType, int64(len(data)), analysis, detections)

	c.JSON(http.StatusOK, UploadResponse{
		Success:    true,
		ImageData:  imageBase64,
		Detections: detections,
		Metadata:   metadata,
		AIAnalysis: analysis,
		Sections:   ParseSections(analysis),
		ProcessingInfo: ProcessingInfo{
			ModelUsed:    s.vlllmModelID,
			AnalysisType: "Medical Image Analysis",
			Timestamp:    Timestamp(time.Now()),
		},
	})
}

// handleQuery 处理问答请求，可带着客户端回传的图片base64
func (s *DefaultRelayService) handleQuery(c *gin.Context) {
	traceID := uuid.NewString()
	log := s.logger.WithTag("query")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondQueryError(c, "No query provided")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		s.respondQueryError(c, "No query provided")
		return
	}

	log.Debug("收到问答请求", map[string]interface{}{
		"trace_id":  traceID,
		"query":     req.Query,
		"has_image": req.ImageData != "",
	})

	messages := []providers.Message{
		{Role: "system", Content: s.systemPrompt},
	}

	var response string
	var modelUsed, queryType string
	var err error

	// 唯一的一处模型选型分支：带图走多模态模型，纯文本走文本模型
	if req.ImageData != "" {
		if check := s.validator.ValidateImageData(image.ImageData{Data: req.ImageData}); !check.IsValid {
			log.Warn(fmt.Sprintf("问答图片校验失败: %v", check.Error), map[string]interface{}{
				"trace_id": traceID,
			})
			s.respondQueryError(c, "Invalid image data")
			return
		}
		modelUsed = s.vlllmModelID
		queryType = "Image-based Medical Query"
		response, err = s.visionModel.ResponseWithImage(c.Request.Context(), messages,
			image.ImageData{Data: req.ImageData}, prompts.ImageQuery(req.Query))
	} else {
		modelUsed = s.llmModelID
		queryType = "Text-based Medical Query"
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: prompts.TextQuery(req.Query),
		})
		response, err = s.textModel.Response(c.Request.Context(), messages)
	}

	if err != nil {
		log.Warn(fmt.Sprintf("上游模型调用失败: %v", err), map[string]interface{}{
			"trace_id": traceID,
		})
		// 带图路径上非上游调用类的错误（图片处理失败）不把内部消息透给客户端
		var upstreamErr *providers.UpstreamError
		if req.ImageData != "" && !errors.As(err, &upstreamErr) {
			s.respondQueryError(c, "Invalid image data")
			return
		}
		s.respondQueryError(c, err.Error())
		return
	}

	s.saveQueryRecord(traceID, req.Query, req.ImageData != "", modelUsed, response)

	c.JSON(http.StatusOK, QueryResponse{
		Response: response,
		Sections: ParseSections(response),
		ModelInfo: ModelInfo{
			ModelUsed: modelUsed,
			QueryType: queryType,
			Timestamp: Timestamp(time.Now()),
		},
	})
}

// respondUploadError 上传失败信封
func (s *DefaultRelayService) respondUploadError(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"success": false, "error": message})
}

// respondQueryError 问答失败信封
func (s *DefaultRelayService) respondQueryError(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"error": message})
}

// saveAnalysisRecord 写入分析历史，未启用存储时直接返回
func (s *DefaultRelayService) saveAnalysisRecord(traceID, filename, format string, sizeBytes int64, analysis string, detections []Detection) {
	if s.db == nil {
		return
	}

	detectionsJSON, err := json.Marshal(detections)
	if err != nil {
		detectionsJSON = []byte("[]")
	}

	record := models.AnalysisRecord{
		TraceID:       traceID,
		Filename:      filename,
		Format:        format,
		FileSizeBytes: sizeBytes,
		ModelUsed:     s.vlllmModelID,
		Analysis:      analysis,
		Detections:    datatypes.JSON(detectionsJSON),
	}
	s.persist("analysis", func() error {
		return s.db.Create(&record).Error
	})
}

// saveQueryRecord 写入问答历史，未启用存储时直接返回
func (s *DefaultRelayService) saveQueryRecord(traceID, query string, hasImage bool, modelUsed, response string) {
	if s.db == nil {
		return
	}

	record := models.QueryRecord{
		TraceID:   traceID,
		Query:     query,
		HasImage:  hasImage,
		ModelUsed: modelUsed,
		Response:  response,
	}
	s.persist("query", func() error {
		return s.db.Create(&record).Error
	})
}

// persist 历史落库，有任务队列时异步执行，不阻塞请求路径
func (s *DefaultRelayService) persist(kind string, write func() error) {
	if s.tasks != nil {
		s.tasks.Submit(task.NewTask(kind, write))
		return
	}
	if err := write(); err != nil {
		s.logger.Warn(fmt.Sprintf("写入%s历史失败: %v", kind, err))
	}
}
