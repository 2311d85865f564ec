package proxy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrShutdownTimeout 表示等待后台任务超时，剩余任务已被取消。
var ErrShutdownTimeout = errors.New("background tasks did not finish before timeout")

// TaskGroup 托管请求结束后仍需运行的后台任务（SWR 回源校验）。
// 任务数量受 limit 约束；超出时 TryGo 直接返回 false，调用方自行决定是否丢弃。
type TaskGroup struct {
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	pending atomic.Int64
}

// NewTaskGroup 创建任务组，limit <= 0 表示不限制并发。
func NewTaskGroup(limit int) *TaskGroup {
	base, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(base)
	if limit > 0 {
		group.SetLimit(limit)
	}
	return &TaskGroup{group: group, ctx: ctx, cancel: cancel}
}

// TryGo 在未达到并发上限时启动任务。任务拿到的是任务组自身的 ctx，
// 与触发它的请求生命周期无关。
func (t *TaskGroup) TryGo(fn func(ctx context.Context) error) bool {
	t.pending.Add(1)
	started := t.group.TryGo(func() error {
		defer t.pending.Add(-1)
		return fn(t.ctx)
	})
	if !started {
		t.pending.Add(-1)
	}
	return started
}

// Pending 返回尚未结束的任务数。
func (t *TaskGroup) Pending() int64 {
	return t.pending.Load()
}

// Shutdown 最多等待 timeout 让任务自然结束，超时后取消 ctx 并等待其退出。
func (t *TaskGroup) Shutdown(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- t.group.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		t.cancel()
		return err
	case <-timer.C:
		t.cancel()
		<-done
		return ErrShutdownTimeout
	}
}
