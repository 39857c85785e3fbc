// Package notify reports task failures to the operators' Telegram channel.
// An unset token disables reporting; the automation layer never depends on
// the notifier being reachable.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const sendMessagePath = "/sendMessage"

type Telegram struct {
	baseURL string
	chatID  string
	client  *http.Client
}

// NewTelegram builds a notifier for the given bot token and chat. An empty
// token returns nil, which every caller treats as "reporting disabled".
func NewTelegram(token, chatID string) (*Telegram, error) {
	if token == "" {
		return nil, nil
	}
	if chatID == "" {
		return nil, errors.New("telegram chat id is required when a token is set")
	}
	return &Telegram{
		baseURL: "https://api.telegram.org/bot" + token,
		chatID:  chatID,
		client:  &http.Client{},
	}, nil
}

// WithBaseURL overrides the API endpoint. This method exists for unit
// testing only.
func (t *Telegram) WithBaseURL(base string) *Telegram {
	t.baseURL = strings.TrimRight(base, "/")
	return t
}

// NotifyFailure sends one message identifying the failed task and where its
// captured output lives.
func (t *Telegram) NotifyFailure(ctx context.Context, task, logPath string, cause error) error {
	text := fmt.Sprintf("❌ Task %s failed: %v\nLog: %s", task, cause, logPath)
	return t.send(ctx, text)
}

func (t *Telegram) send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+sendMessagePath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram responded %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
