package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Job 表示一个"发后不管"的后台工作单元。
//
// 返回的错误只会进入 ErrorHandler（通常是日志），绝不会传回提交方。
type Job func(ctx context.Context) error

// ErrorHandler 错误处理回调函数。
type ErrorHandler func(err error)

// Pool 是通知派发专用的固定 worker 池。
//
// 提交永不阻塞：队列满时直接丢弃任务并记日志，保证主操作
// 不会因为通知延迟或失败而受影响。
type Pool struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job
	onError ErrorHandler

	wg sync.WaitGroup

	// mu 保护 closed 与向 jobs 的发送：关闭通道与提交必须互斥，
	// 否则 Shutdown 和 Enqueue 并发时会向已关闭的通道发送。
	mu     sync.Mutex
	closed bool
}

// NewPool 创建派发池。workers 与 capacity 至少为 1。
func NewPool(logger *slog.Logger, workers int, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 设置错误处理回调。
func (p *Pool) SetErrorHandler(handler ErrorHandler) {
	p.onError = handler
}

// Start 启动 worker，直到 ctx 被取消或调用 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("dispatch worker stopped", slog.Int("worker_id", id))
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if job != nil {
				p.run(ctx, job, id)
			}
		}
	}
}

// run 执行单个任务，带 panic 恢复。
func (p *Pool) run(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := job(ctx); err != nil {
		if p.onError != nil {
			p.onError(err)
		}
	}
}

// Enqueue 提交任务。队列满或池已关闭时返回 false（不阻塞）。
func (p *Pool) Enqueue(job Job) bool {
	if job == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("dispatch pool closed, reject job")
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		p.logger.Warn("dispatch queue full, drop job",
			slog.Int("capacity", cap(p.jobs)),
			slog.Int("pending", len(p.jobs)))
		return false
	}
}

// Shutdown 优雅关闭：拒绝新任务，等待在途任务完成，最多等待 timeout。
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Len 返回当前排队中的任务数。
func (p *Pool) Len() int {
	return len(p.jobs)
}
