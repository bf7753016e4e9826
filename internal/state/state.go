package state

import (
	"context"
	"sort"
)

// Status is the classified availability of a TestFlight page.
type Status string

const (
	// StatusNone marks a target that has never been classified.
	StatusNone      Status = ""
	StatusUnknown   Status = "unknown"
	StatusAvailable Status = "available"
	StatusFull      Status = "full"
)

// ParseStatus maps a stored label to a Status. Unrecognized labels map to StatusNone.
func ParseStatus(label string) Status {
	switch Status(label) {
	case StatusUnknown, StatusAvailable, StatusFull:
		return Status(label)
	default:
		return StatusNone
	}
}

// Target is one monitored TestFlight page and its last classified status.
type Target struct {
	URL        string
	LastStatus Status
}

// State is the full target mapping keyed by target name.
type State struct {
	Targets map[string]Target
}

// Names returns target names in a stable order.
func (s State) Names() []string {
	names := make([]string, 0, len(s.Targets))
	for name := range s.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy that shares no map with s.
func (s State) Clone() State {
	cloned := State{Targets: make(map[string]Target, len(s.Targets))}
	for name, target := range s.Targets {
		cloned.Targets[name] = target
	}
	return cloned
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}
