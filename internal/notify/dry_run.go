package notify

import (
	"context"

	"github.com/nholik/testflight-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs events without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, event transition.Event) error {
	n.logger.Info().
		Str("app", event.Target).
		Str("url", event.URL).
		Str("kind", string(event.Kind)).
		Str("previous_status", string(event.From)).
		Str("current_status", string(event.To)).
		Str("message", event.Message()).
		Msg("[DRY-RUN] Would notify")
	return nil
}
