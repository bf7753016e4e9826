package notify

import (
	"context"

	"github.com/nholik/testflight-sentinel/internal/transition"
)

// Notifier delivers transition events to external systems.
type Notifier interface {
	Notify(ctx context.Context, event transition.Event) error
}
