package relay

// Detection 识别出的对象（类别+置信度+边界框）
// 当前版本不在本服务内做推理，检测列表恒为空，接口形状保留给将来的视觉推理服务
type Detection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

// ImageMetadata 上传图片的元数据，由声明的文件名/类型/大小推导
type ImageMetadata struct {
	Filename        string  `json:"filename"`
	Format          string  `json:"format"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
	FileSizeMB      float64 `json:"file_size_mb"`
	UploadTimestamp string  `json:"upload_timestamp"`
	HasExif         bool    `json:"has_exif"` // 不做EXIF解析，恒为false
}

// ProcessingInfo 上传分析的处理信息
type ProcessingInfo struct {
	ModelUsed    string `json:"model_used"`
	AnalysisType string `json:"analysis_type"`
	Timestamp    string `json:"timestamp"`
}

// ModelInfo 问答的模型信息
type ModelInfo struct {
	ModelUsed string `json:"model_used"`
	QueryType string `json:"query_type"`
	Timestamp string `json:"timestamp"`
}

// Section 模型回复中解析出的一个小节：标题+若干要点
// 由服务端统一解析，避免各客户端重复实现文本扫描
type Section struct {
	Header  string   `json:"header"`
	Bullets []string `json:"bullets"`
}

// UploadResponse 上传分析成功时的响应信封
type UploadResponse struct {
	Success        bool           `json:"success"`
	ImageData      string         `json:"image_data"`
	Detections     []Detection    `json:"detections"`
	Metadata       ImageMetadata  `json:"metadata"`
	AIAnalysis     string         `json:"ai_analysis"`
	Sections       []Section      `json:"ai_analysis_sections"`
	ProcessingInfo ProcessingInfo `json:"processing_info"`
}

// QueryRequest 问答请求体
type QueryRequest struct {
	Query     string `json:"query"`
	ImageData string `json:"image_data"`
}

// QueryResponse 问答成功时的响应信封
type QueryResponse struct {
	Response  string    `json:"response"`
	Sections  []Section `json:"sections"`
	ModelInfo ModelInfo `json:"model_info"`
}

// TestResponse 健康检查响应
type TestResponse struct {
	Status    string   `json:"status"`
	Platform  string   `json:"platform"`
	MedicalAI string   `json:"medical_ai"`
	Features  []string `json:"features"`
}
