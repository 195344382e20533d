package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"voltify/internal/config"
)

// TelegramNotifier 通过 Telegram Bot API 的 sendMessage 发送通知。
type TelegramNotifier struct {
	cfg    *config.TelegramConfig
	client *http.Client
	logger *slog.Logger
}

// NewTelegramNotifier 创建 Telegram 通知器。
func NewTelegramNotifier(cfg *config.TelegramConfig, logger *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send 发送一条 Telegram 消息。
func (n *TelegramNotifier) Send(ctx context.Context, destination string, text string) error {
	if n.cfg.BotToken == "" {
		n.logger.Warn("telegram bot token missing, skip notification")
		return nil
	}
	if strings.TrimSpace(destination) == "" {
		n.logger.Warn("telegram chat id empty, skip notification")
		return nil
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: destination, Text: text})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.cfg.APIBaseURL, "/"), n.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	var body sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram api error (status %d): %s", resp.StatusCode, body.Description)
	}

	n.logger.Info("telegram notification sent", slog.String("chat_id", destination))
	return nil
}
