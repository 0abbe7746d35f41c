package task

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// Task 一个异步持久化任务
// Execute承载实际的落库逻辑，由提交方闭包注入
type Task struct {
	ID        string
	Kind      string // analysis / query
	Status    TaskStatus
	Execute   func() error
	Err       error
	CreatedAt time.Time
}

// NewTask 创建新任务
func NewTask(kind string, execute func() error) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    TaskStatusPending,
		Execute:   execute,
		CreatedAt: time.Now(),
	}
}
