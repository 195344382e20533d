package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"voltify/internal/model"
	"voltify/internal/pkg/metrics"
	"voltify/internal/store"
)

type mockUserSource struct {
	users []model.User
	err   error
}

func (m *mockUserSource) FindNotifiable(ctx context.Context) ([]model.User, error) {
	return m.users, m.err
}

type mockTaskSource struct {
	byOwner map[string][]model.Task
	err     error
}

func (m *mockTaskSource) Find(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	if m.err != nil {
		return nil, m.err
	}
	if filter.Status != model.StatusOpen {
		return nil, errors.New("digest must only query open tasks")
	}
	return m.byOwner[filter.Owner], nil
}

type mockCompleter struct {
	completeFunc func(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	calls        int
	prompts      []string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if m.completeFunc != nil {
		return m.completeFunc(ctx, prompt, maxTokens, temperature)
	}
	return "summary text", nil
}

type mockNotifier struct {
	sendFunc func(ctx context.Context, destination string, text string) error
	sent     []string
	dests    []string
}

func (m *mockNotifier) Send(ctx context.Context, destination string, text string) error {
	m.dests = append(m.dests, destination)
	m.sent = append(m.sent, text)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, destination, text)
	}
	return nil
}

func newTestBroadcaster(users *mockUserSource, tasks *mockTaskSource, completer *mockCompleter, notifier *mockNotifier) *Broadcaster {
	metrics.InitMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBroadcaster(users, tasks, completer, notifier, logger, time.Hour, 650, 0.7)
	b.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestBroadcastNoUsersNoCompletionCalls(t *testing.T) {
	completer := &mockCompleter{}
	notifier := &mockNotifier{}
	b := newTestBroadcaster(&mockUserSource{}, &mockTaskSource{}, completer, notifier)

	if got := b.Broadcast(context.Background()); got != 0 {
		t.Fatalf("expected 0 notified, got %d", got)
	}
	if completer.calls != 0 {
		t.Fatalf("no completion calls expected without users, got %d", completer.calls)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("no sends expected, got %d", len(notifier.sent))
	}
}

func TestBroadcastSkipsUsersWithoutOpenTasks(t *testing.T) {
	users := &mockUserSource{users: []model.User{
		{Username: "idle", TelegramChatID: "chat-idle"},
	}}
	completer := &mockCompleter{}
	notifier := &mockNotifier{}
	b := newTestBroadcaster(users, &mockTaskSource{byOwner: map[string][]model.Task{}}, completer, notifier)

	if got := b.Broadcast(context.Background()); got != 0 {
		t.Fatalf("user without open tasks must not count as notified, got %d", got)
	}
	if completer.calls != 0 {
		t.Fatalf("no completion call expected for empty task list, got %d", completer.calls)
	}
}

func TestBroadcastHappyPath(t *testing.T) {
	users := &mockUserSource{users: []model.User{
		{Username: "alice", TelegramChatID: "chat-a"},
	}}
	tasks := &mockTaskSource{byOwner: map[string][]model.Task{
		"alice": {
			{Owner: "alice", Title: "Renew passport", DueDate: "2026-09-03", Status: model.StatusOpen, Category: "Errands"},
		},
	}}
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
		if maxTokens != 650 {
			t.Fatalf("expected digest max tokens to be passed through, got %d", maxTokens)
		}
		if temperature != 0.7 {
			t.Fatalf("expected digest temperature to be passed through, got %v", temperature)
		}
		return "  **Renew passport** due soon  ", nil
	}}
	notifier := &mockNotifier{}
	b := newTestBroadcaster(users, tasks, completer, notifier)

	if got := b.Broadcast(context.Background()); got != 1 {
		t.Fatalf("expected 1 notified, got %d", got)
	}
	if !strings.Contains(completer.prompts[0], "Renew passport") {
		t.Fatalf("prompt missing task title: %q", completer.prompts[0])
	}
	if notifier.dests[0] != "chat-a" {
		t.Fatalf("expected destination chat-a, got %q", notifier.dests[0])
	}
	if !strings.HasPrefix(notifier.sent[0], "📊 Weekly Summary for alice:\n\n") {
		t.Fatalf("unexpected summary header: %q", notifier.sent[0])
	}
	if strings.HasSuffix(notifier.sent[0], " ") {
		t.Fatalf("summary should be trimmed: %q", notifier.sent[0])
	}
}

func TestBroadcastUserFailureDoesNotBlockOthers(t *testing.T) {
	users := &mockUserSource{users: []model.User{
		{Username: "broken", TelegramChatID: "chat-b"},
		{Username: "alice", TelegramChatID: "chat-a"},
	}}
	tasks := &mockTaskSource{byOwner: map[string][]model.Task{
		"broken": {{Owner: "broken", Title: "t", DueDate: "2026-09-01", Status: model.StatusOpen}},
		"alice":  {{Owner: "alice", Title: "t", DueDate: "2026-09-01", Status: model.StatusOpen}},
	}}
	completer := &mockCompleter{completeFunc: func(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
		if strings.Contains(prompt, "broken") {
			return "", errors.New("model overloaded")
		}
		return "ok", nil
	}}
	notifier := &mockNotifier{}
	b := newTestBroadcaster(users, tasks, completer, notifier)

	// 第一个用户失败不影响第二个
	if got := b.Broadcast(context.Background()); got != 1 {
		t.Fatalf("expected 1 notified despite one failure, got %d", got)
	}
	if len(notifier.sent) != 1 || notifier.dests[0] != "chat-a" {
		t.Fatalf("expected only alice to receive a summary, got %+v", notifier.dests)
	}
}

func TestBroadcastDeliveryFailureSkipsUser(t *testing.T) {
	users := &mockUserSource{users: []model.User{
		{Username: "alice", TelegramChatID: "chat-a"},
	}}
	tasks := &mockTaskSource{byOwner: map[string][]model.Task{
		"alice": {{Owner: "alice", Title: "t", DueDate: "2026-09-01", Status: model.StatusOpen}},
	}}
	notifier := &mockNotifier{sendFunc: func(ctx context.Context, destination string, text string) error {
		return errors.New("chat not found")
	}}
	b := newTestBroadcaster(users, tasks, &mockCompleter{}, notifier)

	if got := b.Broadcast(context.Background()); got != 0 {
		t.Fatalf("failed delivery must not count as notified, got %d", got)
	}
}

func TestBroadcastUserLoadFailure(t *testing.T) {
	users := &mockUserSource{err: errors.New("db down")}
	completer := &mockCompleter{}
	b := newTestBroadcaster(users, &mockTaskSource{}, completer, &mockNotifier{})

	if got := b.Broadcast(context.Background()); got != 0 {
		t.Fatalf("expected 0 notified on user load failure, got %d", got)
	}
	if completer.calls != 0 {
		t.Fatalf("no completion calls expected, got %d", completer.calls)
	}
}
