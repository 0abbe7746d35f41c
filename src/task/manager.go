package task

import (
	"context"
	"fmt"
	"sync"

	"medibot-server-go/src/core/utils"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// Manager 异步任务管理器
// 历史记录落库不在请求路径上执行，提交后由固定数量的worker消费
type Manager struct {
	logger *utils.Logger

	workers   int
	queue     chan *Task
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager 创建任务管理器
func NewManager(logger *utils.Logger, workers, queueSize int) *Manager {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Manager{
		logger:  logger,
		workers: workers,
		queue:   make(chan *Task, queueSize),
	}
}

// Start 启动worker，重复调用无效果
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		for i := 0; i < m.workers; i++ {
			m.wg.Add(1)
			go m.runWorker(ctx, i)
		}
		m.logger.Info(fmt.Sprintf("任务管理器已启动, worker数量: %d", m.workers))
	})
}

// Submit 提交任务，队列满时丢弃并告警而不是阻塞请求
func (m *Manager) Submit(t *Task) bool {
	select {
	case m.queue <- t:
		return true
	default:
		m.logger.Warn("任务队列已满，丢弃任务", map[string]interface{}{
			"task_id": t.ID,
			"kind":    t.Kind,
		})
		return false
	}
}

// Stop 关闭队列并等待在队任务执行完毕
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.queue)
		m.wg.Wait()
		m.logger.Info("任务管理器已停止")
	})
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()

	for {
		select {
		case t, ok := <-m.queue:
			if !ok {
				return
			}
			m.execute(t)
		case <-ctx.Done():
			// 上下文取消后把已排队的任务清空再退出
			for {
				select {
				case t, ok := <-m.queue:
					if !ok {
						return
					}
					m.execute(t)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) execute(t *Task) {
	t.Status = TaskStatusRunning
	if err := t.Execute(); err != nil {
		t.Status = TaskStatusFailed
		t.Err = err
		m.logger.Warn(fmt.Sprintf("任务执行失败: %v", err), map[string]interface{}{
			"task_id": t.ID,
			"kind":    t.Kind,
		})
		return
	}
	t.Status = TaskStatusComplete
}
