package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

const telegramTimeout = 5 * time.Second

// Sink delivers a push message to the operator.
type Sink interface {
	Send(ctx context.Context, text string) error
}

type TelegramSink struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegramSink(token, chatID string) *TelegramSink {
	return &TelegramSink{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: telegramTimeout},
	}
}

// WithBaseURL points the sink at another API host.
func (t *TelegramSink) WithBaseURL(baseURL string) *TelegramSink {
	t.baseURL = strings.TrimRight(baseURL, "/")
	return t
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *TelegramSink) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(t.token) == "" || strings.TrimSpace(t.chatID) == "" {
		return errors.New("telegram config missing")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("empty message")
	}

	payload, err := sonnet.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, telegramTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := t.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(response.Body)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("telegram api status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
