package monitor

import (
	"context"

	"github.com/KNICEX/crypto-monitor/internal/schedule"
)

// Task 把监控主循环包装成可调度任务
type Task struct {
	monitor *Monitor
}

func NewTask(m *Monitor) *Task {
	return &Task{monitor: m}
}

func (t *Task) Run(ctx context.Context) error {
	return t.monitor.Run(ctx)
}

func (t *Task) Name() string {
	return "market-monitor"
}

var _ schedule.Task = (*Task)(nil)
