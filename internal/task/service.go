package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voltify/internal/model"
	"voltify/internal/pkg/dispatch"
	"voltify/internal/pkg/metrics"
	"voltify/internal/store"
)

// TaskStore 是服务依赖的任务存储契约，由 store.TaskStore 实现。
type TaskStore interface {
	Find(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	FindByID(ctx context.Context, owner string, id uint) (*model.Task, error)
	Insert(ctx context.Context, task *model.Task) error
	Patch(ctx context.Context, id uint, fields map[string]interface{}) error
	Delete(ctx context.Context, owner string, id uint) (int64, error)
}

// UserStore 是服务依赖的用户存储契约，由 store.UserStore 实现。
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	SetNotifyDestination(ctx context.Context, username string, destination string) error
}

// Notifier 向外部渠道发送一条文本消息。
type Notifier interface {
	Send(ctx context.Context, destination string, text string) error
}

// Dispatcher 接收发后不管的通知任务。
type Dispatcher interface {
	Enqueue(job dispatch.Job) bool
}

// Service 是任务生命周期与访问控制的核心层。
//
// 所有操作都要求已解析的身份（用户名），并把读写限定在该身份
// 拥有的任务上。owner、created_at、id 只由本层写入。
type Service struct {
	tasks         TaskStore
	users         UserStore
	notifier      Notifier
	dispatcher    Dispatcher
	logger        *slog.Logger
	notifyTimeout time.Duration
}

// NewService 创建任务服务。依赖全部显式注入，便于测试替换。
func NewService(tasks TaskStore, users UserStore, notifier Notifier, dispatcher Dispatcher, logger *slog.Logger, notifyTimeout time.Duration) *Service {
	if notifyTimeout <= 0 {
		notifyTimeout = 5 * time.Second
	}
	return &Service{
		tasks:         tasks,
		users:         users,
		notifier:      notifier,
		dispatcher:    dispatcher,
		logger:        logger,
		notifyTimeout: notifyTimeout,
	}
}

// CreateInput 创建任务的输入。title/description/due_date 必填。
type CreateInput struct {
	Title         string
	Description   string
	DueDate       string
	Category      string
	EstimatedTime string
}

// Patch 是部分更新的封闭字段集。只有这六个字段可以通过更新修改，
// 其它字段（owner、created_at 等）在类型层面就无法表达。
type Patch struct {
	Title         *string
	Description   *string
	DueDate       *string
	Status        *string
	Category      *string
	EstimatedTime *string
}

// fields 把补丁转换为存储层的字段集。
func (p *Patch) fields() map[string]interface{} {
	m := map[string]interface{}{}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.DueDate != nil {
		m["due_date"] = *p.DueDate
	}
	if p.Status != nil {
		m["status"] = *p.Status
	}
	if p.Category != nil {
		m["category"] = *p.Category
	}
	if p.EstimatedTime != nil {
		m["estimated_time"] = *p.EstimatedTime
	}
	return m
}

// List 返回身份名下满足过滤条件的全部任务。
// status 与 category 为精确匹配，同时给出时取交集。
func (s *Service) List(ctx context.Context, identity string, status string, category string) ([]model.Task, error) {
	if identity == "" {
		return nil, ErrUnauthorized
	}
	return s.tasks.Find(ctx, store.TaskFilter{
		Owner:    identity,
		Status:   status,
		Category: category,
	})
}

// Create 校验并持久化新任务。
//
// owner/status/created_at 由本层写入，调用方传入的同名值一律忽略。
// 持久化成功后以发后不管的方式尝试推送"任务已创建"通知。
func (s *Service) Create(ctx context.Context, identity string, in CreateInput) (*model.Task, error) {
	if identity == "" {
		return nil, ErrUnauthorized
	}
	// 按声明顺序报告第一个缺失字段
	if strings.TrimSpace(in.Title) == "" {
		return nil, &MissingFieldError{Field: "title"}
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, &MissingFieldError{Field: "description"}
	}
	if strings.TrimSpace(in.DueDate) == "" {
		return nil, &MissingFieldError{Field: "due_date"}
	}
	if _, err := time.Parse(model.DueDateLayout, in.DueDate); err != nil {
		return nil, &MissingFieldError{Field: "due_date"}
	}

	t := &model.Task{
		Owner:         identity,
		Title:         in.Title,
		Description:   in.Description,
		DueDate:       in.DueDate,
		Status:        model.StatusOpen,
		Category:      in.Category,
		EstimatedTime: in.EstimatedTime,
	}
	if err := s.tasks.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	metrics.TasksCreatedTotal.Inc()
	s.logger.Info("task created",
		slog.String("owner", identity),
		slog.Uint64("task_id", uint64(t.ID)),
		slog.String("title", t.Title))

	s.dispatchNotification(identity,
		fmt.Sprintf("📝 New task created: '%s' due on %s", t.Title, t.DueDate))

	return t, nil
}

// Get 返回身份名下的单个任务。任务不存在与归属不符都返回 ErrNotFound。
func (s *Service) Get(ctx context.Context, identity string, id uint) (*model.Task, error) {
	if identity == "" {
		return nil, ErrUnauthorized
	}
	t, err := s.tasks.FindByID(ctx, identity, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return t, nil
}

// Update 对身份名下的任务应用部分更新并返回更新后的任务。
//
// 只有 Patch 中声明的字段可以被修改。status 从非 done 首次变为 done
// 时触发一次"任务完成"通知；重复把 done 更新为 done 不会再次触发。
func (s *Service) Update(ctx context.Context, identity string, id uint, patch Patch) (*model.Task, error) {
	if identity == "" {
		return nil, ErrUnauthorized
	}

	before, err := s.tasks.FindByID(ctx, identity, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	if patch.DueDate != nil {
		if strings.TrimSpace(*patch.DueDate) == "" {
			return nil, &MissingFieldError{Field: "due_date"}
		}
		if _, err := time.Parse(model.DueDateLayout, *patch.DueDate); err != nil {
			return nil, &MissingFieldError{Field: "due_date"}
		}
	}

	if fields := patch.fields(); len(fields) > 0 {
		if err := s.tasks.Patch(ctx, id, fields); err != nil {
			return nil, fmt.Errorf("patch task: %w", err)
		}
	}

	s.logger.Info("task updated",
		slog.String("owner", identity),
		slog.Uint64("task_id", uint64(id)))

	if before.Status != model.StatusDone && patch.Status != nil && *patch.Status == model.StatusDone {
		metrics.TasksCompletedTotal.Inc()
		s.dispatchNotification(identity,
			fmt.Sprintf("✅ Task marked as done: '%s'", before.Title))
	}

	after, err := s.tasks.FindByID(ctx, identity, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reload task: %w", err)
	}
	return after, nil
}

// Delete 删除身份名下的任务。未命中（不存在或归属不符）返回 ErrNotFound。
func (s *Service) Delete(ctx context.Context, identity string, id uint) error {
	if identity == "" {
		return ErrUnauthorized
	}
	deleted, err := s.tasks.Delete(ctx, identity, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	s.logger.Info("task deleted",
		slog.String("owner", identity),
		slog.Uint64("task_id", uint64(id)))
	return nil
}

// SetNotificationDestination 设置或覆盖用户的通知目的地，幂等。
func (s *Service) SetNotificationDestination(ctx context.Context, identity string, destination string) error {
	if identity == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(destination) == "" {
		return &MissingFieldError{Field: "telegram_chat_id"}
	}
	if err := s.users.SetNotifyDestination(ctx, identity, destination); err != nil {
		return fmt.Errorf("set notify destination: %w", err)
	}
	return nil
}

// dispatchNotification 提交一条发后不管的通知。
//
// 用户查询和发送都在独立的超时上下文里执行，主操作的返回
// 不受通知结果和延迟影响。没有绑定通知目的地的用户静默跳过。
func (s *Service) dispatchNotification(owner string, text string) {
	job := func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		user, err := s.users.FindByUsername(sendCtx, owner)
		if err != nil {
			return fmt.Errorf("load user %q for notification: %w", owner, err)
		}
		if !user.HasNotifyDestination() {
			return nil
		}
		if err := s.notifier.Send(sendCtx, user.TelegramChatID, text); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("send notification to %q: %w", owner, err)
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
		return nil
	}

	if !s.dispatcher.Enqueue(job) {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
	}
}
