package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

var _ Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier 逐个chat投递, 单个chat最多重试3次, 间隔2秒。
// 任一chat重试耗尽则本次发送视为失败。
type TelegramNotifier struct {
	cli     *http.Client
	baseURL string
	token   string
	chatIDs []string

	maxAttempts  int
	retryBackoff time.Duration
}

type TelegramOption func(n *TelegramNotifier)

func WithTelegramAPI(baseURL string) TelegramOption {
	return func(n *TelegramNotifier) {
		n.baseURL = baseURL
	}
}

func WithTelegramHTTPClient(cli *http.Client) TelegramOption {
	return func(n *TelegramNotifier) {
		n.cli = cli
	}
}

func WithTelegramRetryBackoff(d time.Duration) TelegramOption {
	return func(n *TelegramNotifier) {
		n.retryBackoff = d
	}
}

func NewTelegramNotifier(token string, chatIDs []string, opts ...TelegramOption) *TelegramNotifier {
	n := &TelegramNotifier{
		cli:          &http.Client{Timeout: 5 * time.Second},
		baseURL:      defaultTelegramAPI,
		token:        token,
		chatIDs:      chatIDs,
		maxAttempts:  3,
		retryBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *TelegramNotifier) Name() string {
	return "telegram"
}

func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	for _, chatID := range n.chatIDs {
		if err := n.sendToChat(ctx, chatID, text); err != nil {
			return fmt.Errorf("telegram chat %s: %w", chatID, err)
		}
	}
	return nil
}

func (n *TelegramNotifier) TestConnection(ctx context.Context) error {
	return n.Send(ctx, "monitor connection test")
}

func (n *TelegramNotifier) sendToChat(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	form := url.Values{
		"chat_id":    {chatID},
		"text":       {text},
		"parse_mode": {"Markdown"},
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(n.retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := n.cli.Do(req)
		if err != nil {
			lastErr = err
			slog.Warn("telegram send failed", "chat_id", chatID, "attempt", attempt, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		slog.Warn("telegram send failed", "chat_id", chatID, "attempt", attempt, "status", resp.StatusCode)
	}
	return lastErr
}
