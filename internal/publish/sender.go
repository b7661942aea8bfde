package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"alertrelay/internal/domain"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

const maxErrorBodyBytes = 4 << 10

// Sender issues one outbound call for one formatted payload.
// Params: context carrying the per-attempt deadline, target, and payload.
// Returns: HTTP-like status code (0 when no response) and delivery error.
type Sender interface {
	Send(ctx context.Context, target domain.Target, payload Payload) (int, error)
}

// StatusError reports a non-2xx response from a target.
type StatusError struct {
	Code int
	Body string
}

// Error returns status-only or status+body message.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status=%d", e.Code)
	}
	return fmt.Sprintf("status=%d body=%s", e.Code, e.Body)
}

// HTTPSender posts payloads over HTTP.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates HTTP sender; per-attempt timeout comes from ctx.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{client: client}
}

// Send POSTs payload body to payload URL.
// Params: context, target headers already merged into payload.
// Returns: response status and transport or status error.
func (s *HTTPSender) Send(ctx context.Context, _ domain.Target, payload Payload) (int, error) {
	if strings.TrimSpace(payload.URL) == "" {
		return 0, errors.New("target endpoint is empty")
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if payload.ContentType != "" {
		request.Header.Set("Content-Type", payload.ContentType)
	}
	for key, value := range payload.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return response.StatusCode, unexpectedStatus(response)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxErrorBodyBytes))
	return response.StatusCode, nil
}

// unexpectedStatus captures a bounded response body into the error.
func unexpectedStatus(response *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	return &StatusError{Code: response.StatusCode, Body: strings.TrimSpace(string(raw))}
}

// TelegramSender sends payload text through the Telegram Bot API.
// Params: bot token from target secret, chat id from options, API base from endpoint.
// Returns: sender with per-token bot clients.
type TelegramSender struct {
	mu      sync.Mutex
	clients map[string]*tgbot.Bot
}

// NewTelegramSender creates Telegram sender.
func NewTelegramSender() *TelegramSender {
	return &TelegramSender{clients: make(map[string]*tgbot.Bot)}
}

// Send posts one HTML message to the target chat.
func (s *TelegramSender) Send(ctx context.Context, target domain.Target, payload Payload) (int, error) {
	chatID := strings.TrimSpace(target.Option("chat_id", ""))
	if chatID == "" {
		return http.StatusBadRequest, &StatusError{Code: http.StatusBadRequest, Body: "telegram chat_id option is required"}
	}
	client, err := s.client(target)
	if err != nil {
		return 0, err
	}
	sent, err := client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    normalizeChatID(chatID),
		Text:      string(payload.Body),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return telegramStatus(err)
	}
	if sent == nil || sent.ID <= 0 {
		return 0, errors.New("telegram send returned empty message id")
	}
	return http.StatusOK, nil
}

// client returns cached bot client for target token and API base.
func (s *TelegramSender) client(target domain.Target) (*tgbot.Bot, error) {
	token := strings.TrimSpace(target.Secret)
	if token == "" {
		return nil, &StatusError{Code: http.StatusUnauthorized, Body: "telegram bot token is required"}
	}
	base := strings.TrimRight(strings.TrimSpace(target.Endpoint), "/")
	key := base + "|" + token

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[key]; ok {
		return client, nil
	}
	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base != "" {
		options = append(options, tgbot.WithServerURL(base))
	}
	client, err := tgbot.New(token, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	s.clients[key] = client
	return client, nil
}

// telegramStatus maps Bot API errors onto HTTP-like status codes.
func telegramStatus(err error) (int, error) {
	mapped := []struct {
		target error
		code   int
	}{
		{tgbot.ErrorBadRequest, http.StatusBadRequest},
		{tgbot.ErrorUnauthorized, http.StatusUnauthorized},
		{tgbot.ErrorForbidden, http.StatusForbidden},
		{tgbot.ErrorNotFound, http.StatusNotFound},
		{tgbot.ErrorConflict, http.StatusConflict},
		{tgbot.ErrorTooManyRequests, http.StatusTooManyRequests},
	}
	for _, item := range mapped {
		if errors.Is(err, item.target) {
			return item.code, &StatusError{Code: item.code, Body: err.Error()}
		}
	}
	return 0, fmt.Errorf("telegram send: %w", err)
}

// normalizeChatID converts numeric chat IDs to int64 and keeps channel names as string.
func normalizeChatID(raw string) any {
	if numeric, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return numeric
	}
	return raw
}

// Router dispatches to a sender by target type.
type Router struct {
	byType   map[string]Sender
	fallback Sender
}

// NewRouter creates router with fallback sender for unlisted types.
func NewRouter(fallback Sender, byType map[string]Sender) *Router {
	return &Router{byType: byType, fallback: fallback}
}

// Send routes payload to the type-specific sender.
func (r *Router) Send(ctx context.Context, target domain.Target, payload Payload) (int, error) {
	if sender, ok := r.byType[target.Type]; ok {
		return sender.Send(ctx, target, payload)
	}
	return r.fallback.Send(ctx, target, payload)
}

// DefaultSender builds the production router: Telegram via Bot API, everything else via HTTP.
func DefaultSender(client *http.Client) *Router {
	return NewRouter(NewHTTPSender(client), map[string]Sender{
		domain.TargetTypeTelegram: NewTelegramSender(),
	})
}
