package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voltify/internal/ai"
	"voltify/internal/model"
	"voltify/internal/pkg/metrics"
	"voltify/internal/pkg/notify"
	"voltify/internal/store"
)

// UserSource 提供摘要广播需要的用户查询。
type UserSource interface {
	FindNotifiable(ctx context.Context) ([]model.User, error)
}

// TaskSource 提供按过滤条件的任务查询。
type TaskSource interface {
	Find(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
}

// Broadcaster 向所有绑定了通知渠道的用户推送开放任务摘要。
//
// 单个用户的失败（补全或推送）只记日志，不影响其余用户，
// 广播整体永远视为成功。
type Broadcaster struct {
	users       UserSource
	tasks       TaskSource
	completer   ai.Completer
	notifier    notify.Notifier
	logger      *slog.Logger
	interval    time.Duration
	maxTokens   int
	temperature float64
	perUser     time.Duration // 单用户处理超时（补全 + 推送）
	now         func() time.Time
}

// NewBroadcaster 创建摘要广播器。
func NewBroadcaster(users UserSource, tasks TaskSource, completer ai.Completer, notifier notify.Notifier, logger *slog.Logger, interval time.Duration, maxTokens int, temperature float64) *Broadcaster {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	if maxTokens <= 0 {
		maxTokens = 650
	}
	return &Broadcaster{
		users:       users,
		tasks:       tasks,
		completer:   completer,
		notifier:    notifier,
		logger:      logger,
		interval:    interval,
		maxTokens:   maxTokens,
		temperature: temperature,
		perUser:     30 * time.Second,
		now:         time.Now,
	}
}

// Start 启动周期性广播循环，直到 ctx 被取消。
func (b *Broadcaster) Start(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	b.logger.Info("digest broadcaster started", slog.String("interval", b.interval.String()))

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				b.logger.Info("digest broadcaster stopped")
				return
			case <-ticker.C:
				b.Broadcast(ctx)
			}
		}
	}()
}

// Broadcast 执行一次摘要广播，返回成功推送的用户数。
func (b *Broadcaster) Broadcast(ctx context.Context) int {
	metrics.DigestRunsTotal.Inc()

	users, err := b.users.FindNotifiable(ctx)
	if err != nil {
		b.logger.Error("digest: load users failed", slog.String("error", err.Error()))
		return 0
	}

	notified := 0
	for _, user := range users {
		if ctx.Err() != nil {
			return notified
		}
		sent, err := b.digestUser(ctx, &user)
		if err != nil {
			b.logger.Warn("digest: user skipped",
				slog.String("user", user.Username),
				slog.String("error", err.Error()))
			continue
		}
		if sent {
			notified++
			metrics.DigestUsersNotified.Inc()
		}
	}

	b.logger.Info("digest broadcast finished",
		slog.Int("users", len(users)),
		slog.Int("notified", notified))
	return notified
}

// digestUser 为单个用户生成并推送摘要。没有开放任务时静默跳过
// （不算失败，也不计入推送数）。
func (b *Broadcaster) digestUser(ctx context.Context, user *model.User) (bool, error) {
	userCtx, cancel := context.WithTimeout(ctx, b.perUser)
	defer cancel()

	tasks, err := b.tasks.Find(userCtx, store.TaskFilter{
		Owner:  user.Username,
		Status: model.StatusOpen,
	})
	if err != nil {
		return false, fmt.Errorf("load open tasks: %w", err)
	}
	if len(tasks) == 0 {
		b.logger.Debug("digest: no open tasks", slog.String("user", user.Username))
		return false, nil
	}

	prompt := ai.BuildDigestPrompt(b.now(), tasks)
	summary, err := b.completer.Complete(userCtx, prompt, b.maxTokens, b.temperature)
	if err != nil {
		return false, fmt.Errorf("summarize: %w", err)
	}

	text := fmt.Sprintf("📊 Weekly Summary for %s:\n\n%s", user.Username, strings.TrimSpace(summary))
	if err := b.notifier.Send(userCtx, user.TelegramChatID, text); err != nil {
		return false, fmt.Errorf("deliver summary: %w", err)
	}
	return true, nil
}
