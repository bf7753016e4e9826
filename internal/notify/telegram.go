package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nholik/testflight-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

const (
	defaultTelegramAPIURL = "https://api.telegram.org"
	telegramParseMode     = "Markdown"
)

// TelegramNotifier posts event messages through the Telegram Bot API sendMessage method.
type TelegramNotifier struct {
	logger zerolog.Logger
	apiURL string
	chatID string
	timing timingConfig
	poster *httpPoster
}

// TelegramOption customizes TelegramNotifier behavior.
type TelegramOption func(*TelegramNotifier)

// WithTelegramAPIURL overrides the Bot API base URL.
func WithTelegramAPIURL(apiURL string) TelegramOption {
	return func(n *TelegramNotifier) {
		if apiURL != "" {
			n.apiURL = strings.TrimRight(apiURL, "/")
		}
	}
}

// WithTelegramTiming overrides timing parameters (primarily for testing).
func WithTelegramTiming(rateInterval time.Duration, rateBurst int, backoffStep time.Duration, maxAttempts int) TelegramOption {
	return func(n *TelegramNotifier) {
		n.timing.rateInterval = rateInterval
		n.timing.rateBurst = rateBurst
		n.timing.backoffStep = backoffStep
		n.timing.maxAttempts = maxAttempts
	}
}

// NewTelegramNotifier creates a Telegram notifier, or a noop notifier when the
// bot token or chat id is missing.
func NewTelegramNotifier(logger zerolog.Logger, token, chatID string, opts ...TelegramOption) Notifier {
	if token == "" || chatID == "" {
		return NewNoop(logger, "telegram credentials not set; notifications disabled")
	}

	notifier := &TelegramNotifier{
		logger: logger,
		apiURL: defaultTelegramAPIURL,
		chatID: chatID,
		timing: defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", notifier.apiURL, token)
	notifier.poster = newHTTPPoster(logger, "telegram", endpoint, "application/x-www-form-urlencoded", notifier.timing)

	return notifier
}

// Notify implements Notifier. Failed deliveries are logged and returned; the caller drops them.
func (n *TelegramNotifier) Notify(ctx context.Context, event transition.Event) error {
	if err := n.poster.waitForRateLimit(ctx, n.chatID); err != nil {
		return err
	}

	if err := n.poster.postWithRetry(ctx, n.payload(event.Message())); err != nil {
		n.logger.Error().
			Err(err).
			Str("app", event.Target).
			Str("kind", string(event.Kind)).
			Msg("all attempts failed, telegram notification not delivered")
		return err
	}

	n.logger.Info().
		Str("app", event.Target).
		Str("kind", string(event.Kind)).
		Msg("telegram notification sent")
	return nil
}

func (n *TelegramNotifier) payload(text string) []byte {
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", telegramParseMode)
	return []byte(form.Encode())
}
