package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"voltify/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier(&config.TelegramConfig{
		BotToken:   "test-token",
		APIBaseURL: srv.URL,
	}, testLogger())

	if err := n.Send(context.Background(), "12345", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody.ChatID != "12345" || gotBody.Text != "hello" {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestTelegramSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	n := NewTelegramNotifier(&config.TelegramConfig{
		BotToken:   "test-token",
		APIBaseURL: srv.URL,
	}, testLogger())

	err := n.Send(context.Background(), "12345", "hello")
	if err == nil {
		t.Fatal("expected error from telegram api")
	}
}

func TestTelegramSkipsWithoutToken(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := NewTelegramNotifier(&config.TelegramConfig{
		BotToken:   "",
		APIBaseURL: srv.URL,
	}, testLogger())

	// 未配置 token 时跳过但不报错，通知是尽力而为
	if err := n.Send(context.Background(), "12345", "hello"); err != nil {
		t.Fatalf("missing token should be a silent skip: %v", err)
	}
	if called {
		t.Fatal("no http call expected without token")
	}
}

func TestTelegramSkipsEmptyDestination(t *testing.T) {
	n := NewTelegramNotifier(&config.TelegramConfig{
		BotToken:   "test-token",
		APIBaseURL: "http://127.0.0.1:1",
	}, testLogger())

	if err := n.Send(context.Background(), "  ", "hello"); err != nil {
		t.Fatalf("empty destination should be a silent skip: %v", err)
	}
}
