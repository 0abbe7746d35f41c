package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"medibot-server-go/src/configs"
	"medibot-server-go/src/core/utils"
)

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	config.Log.LogLevel = "error"

	logger, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建测试日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestManagerExecutesTasks(t *testing.T) {
	manager := NewManager(newTestLogger(t), 2, 16)
	manager.Start(context.Background())

	var executed atomic.Int64
	for i := 0; i < 10; i++ {
		ok := manager.Submit(NewTask("analysis", func() error {
			executed.Add(1)
			return nil
		}))
		if !ok {
			t.Fatal("提交任务失败")
		}
	}

	// Stop会关闭队列并等待在队任务全部执行完
	manager.Stop()

	if executed.Load() != 10 {
		t.Errorf("执行任务数 = %d, 期望 10", executed.Load())
	}
}

func TestManagerTaskFailure(t *testing.T) {
	manager := NewManager(newTestLogger(t), 1, 4)
	manager.Start(context.Background())

	task := NewTask("query", func() error {
		return errors.New("落库失败")
	})
	manager.Submit(task)
	manager.Stop()

	if task.Status != TaskStatusFailed {
		t.Errorf("任务状态 = %s, 期望 failed", task.Status)
	}
	if task.Err == nil {
		t.Error("期望记录任务错误")
	}
}

func TestManagerQueueFull(t *testing.T) {
	manager := NewManager(newTestLogger(t), 1, 1)
	// 不启动worker，队列无人消费

	blocker := NewTask("analysis", func() error { return nil })
	if !manager.Submit(blocker) {
		t.Fatal("第一次提交应当成功")
	}
	if manager.Submit(NewTask("analysis", func() error { return nil })) {
		t.Error("队列满时提交应当失败而不是阻塞")
	}
}
