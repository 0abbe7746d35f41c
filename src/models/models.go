package models

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisRecord 影像分析历史记录
// 只保存元数据和分析文本，图片字节不落库
type AnalysisRecord struct {
	ID            uint   `gorm:"primaryKey"`
	TraceID       string `gorm:"index"`
	Filename      string
	Format        string
	FileSizeBytes int64
	ModelUsed     string
	Analysis      string         `gorm:"type:text"`
	Detections    datatypes.JSON // 检测结果，当前恒为空数组
	CreatedAt     time.Time
}

// QueryRecord 问答历史记录
type QueryRecord struct {
	ID        uint   `gorm:"primaryKey"`
	TraceID   string `gorm:"index"`
	Query     string `gorm:"type:text"`
	HasImage  bool
	ModelUsed string
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}
