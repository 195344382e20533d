package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"voltify/internal/model"
	"voltify/internal/task"
)

type mockCompleter struct {
	completeFunc func(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	calls        int
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	m.calls++
	return m.completeFunc(ctx, prompt, maxTokens, temperature)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecommendPassesPromptAndLimits(t *testing.T) {
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
		if prompt != "Categorize and estimate time for the following task: 'clean the garage'" {
			t.Fatalf("unexpected prompt: %q", prompt)
		}
		if maxTokens != 100 {
			t.Fatalf("expected maxTokens 100, got %d", maxTokens)
		}
		if temperature != 0 {
			t.Fatalf("recommend must leave temperature at model default, got %v", temperature)
		}
		return "Category: Home. Estimated time: 2 hours.", nil
	}}
	r := NewRecommender(completer, time.Second, 100, testLogger())

	got, err := r.Recommend(context.Background(), "alice", "clean the garage")
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if got != "Category: Home. Estimated time: 2 hours." {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestRecommendRequiresIdentity(t *testing.T) {
	r := NewRecommender(&mockCompleter{}, time.Second, 100, testLogger())
	_, err := r.Recommend(context.Background(), "", "desc")
	if !errors.Is(err, task.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRecommendRequiresDescription(t *testing.T) {
	completer := &mockCompleter{}
	r := NewRecommender(completer, time.Second, 100, testLogger())

	for _, desc := range []string{"", "   "} {
		_, err := r.Recommend(context.Background(), "alice", desc)
		var missing *task.MissingFieldError
		if !errors.As(err, &missing) || missing.Field != "description" {
			t.Fatalf("expected description MissingFieldError, got %v", err)
		}
	}
	if completer.calls != 0 {
		t.Fatalf("no completion call expected on validation failure")
	}
}

func TestRecommendWrapsCompletionFailure(t *testing.T) {
	wantErr := errors.New("upstream 503")
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
		return "", wantErr
	}}
	r := NewRecommender(completer, time.Second, 100, testLogger())

	_, err := r.Recommend(context.Background(), "alice", "desc")
	var external *task.ExternalServiceError
	if !errors.As(err, &external) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
}

func TestBuildDigestPrompt(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{Title: "Renew passport", DueDate: "2026-09-03", Category: "Errands", Description: "bring photos"},
		{Title: "No due date task"},                 // 缺截止日期，跳过
		{Title: "", DueDate: "2026-09-10"},          // 缺标题，跳过
		{Title: "Plan trip", DueDate: "2026-10-01"}, // 无分类
	}

	prompt := BuildDigestPrompt(now, tasks)

	if !strings.HasPrefix(prompt, "Today is 2026-08-30.\n") {
		t.Fatalf("prompt missing date header: %q", prompt)
	}
	if !strings.Contains(prompt, "- Title: Renew passport | Category: Errands | Due: 2026-09-03 | Description: bring photos") {
		t.Fatalf("prompt missing task line: %q", prompt)
	}
	if !strings.Contains(prompt, "- Title: Plan trip | Category: No Category | Due: 2026-10-01") {
		t.Fatalf("missing category fallback: %q", prompt)
	}
	if strings.Contains(prompt, "No due date task") {
		t.Fatalf("task without due date must be skipped: %q", prompt)
	}
	if !strings.Contains(prompt, "Mark tasks due in the next 7 days as '**Due Soon**'") {
		t.Fatalf("prompt missing formatting instructions: %q", prompt)
	}
}
