package runner

import "fmt"

// RuntimeError is a per-cycle failure that is logged and never stops the loop.
// Target is empty for failures that affect the whole cycle, such as a save.
type RuntimeError struct {
	Op     string
	Target string
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Target, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func wrapRuntime(op string, err error) error {
	return wrapTargetRuntime(op, "", err)
}

func wrapTargetRuntime(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Op: op, Target: target, Err: err}
}
