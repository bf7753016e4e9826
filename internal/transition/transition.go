package transition

import (
	"fmt"

	"github.com/nholik/testflight-sentinel/internal/state"
)

// Kind identifies a notification-worthy transition.
type Kind string

const (
	KindOpened Kind = "opened"
	KindClosed Kind = "closed"
)

// Event is a fired transition for a single target.
type Event struct {
	Target string
	URL    string
	Kind   Kind
	From   state.Status
	To     state.Status
}

// Message renders the Markdown text delivered to users.
func (e Event) Message() string {
	switch e.Kind {
	case KindOpened:
		return fmt.Sprintf("🚀 TestFlight for *%s* AVAILABLE!\n%s", e.Target, e.URL)
	case KindClosed:
		return fmt.Sprintf("❌ TestFlight for *%s* FULL.\n%s", e.Target, e.URL)
	default:
		return fmt.Sprintf("TestFlight for *%s*: %s → %s\n%s", e.Target, statusLabel(e.From), statusLabel(e.To), e.URL)
	}
}

// Evaluate compares next with the target's last status and records next on the target.
// Only a change into available or a change from available to full produces an event;
// every other change is recorded silently.
func Evaluate(name string, target *state.Target, next state.Status) *Event {
	prev := target.LastStatus
	target.LastStatus = next

	if prev == next {
		return nil
	}

	var kind Kind
	switch {
	case next == state.StatusAvailable:
		kind = KindOpened
	case next == state.StatusFull && prev == state.StatusAvailable:
		kind = KindClosed
	default:
		return nil
	}

	return &Event{
		Target: name,
		URL:    target.URL,
		Kind:   kind,
		From:   prev,
		To:     next,
	}
}

func statusLabel(status state.Status) string {
	if status == state.StatusNone {
		return "none"
	}
	return string(status)
}
