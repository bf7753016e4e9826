package notify

import (
	"context"

	"github.com/nholik/testflight-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

// NoopNotifier drops notifications.
type NoopNotifier struct {
	logger zerolog.Logger
	reason string
}

// NewNoop returns a notifier that warns on every event and delivers nothing.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger, reason: reason}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(_ context.Context, event transition.Event) error {
	n.logger.Warn().
		Str("app", event.Target).
		Str("kind", string(event.Kind)).
		Str("reason", n.reason).
		Msg("notification skipped")
	return nil
}
