package ai

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"voltify/internal/task"
)

// Completer 是文本补全服务的调用契约。
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Recommender 为任务描述生成分类与耗时建议。
//
// 这是唯一把外部补全失败直接透给调用方的路径：
// 该操作的全部价值就是补全结果，没有可降级的余地。
type Recommender struct {
	completer Completer
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

// NewRecommender 创建推荐服务。
func NewRecommender(completer Completer, timeout time.Duration, maxTokens int, logger *slog.Logger) *Recommender {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 100
	}
	return &Recommender{
		completer: completer,
		timeout:   timeout,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Recommend 返回针对 description 的原始补全文本。
func (r *Recommender) Recommend(ctx context.Context, identity string, description string) (string, error) {
	if identity == "" {
		return "", task.ErrUnauthorized
	}
	if strings.TrimSpace(description) == "" {
		return "", &task.MissingFieldError{Field: "description"}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.completer.Complete(callCtx, BuildRecommendPrompt(description), r.maxTokens, 0)
	if err != nil {
		r.logger.Warn("recommendation failed",
			slog.String("user", identity),
			slog.String("error", err.Error()))
		return "", &task.ExternalServiceError{Service: "completion", Err: err}
	}
	return result, nil
}
