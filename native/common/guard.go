package common

import "errors"

// ErrModulePaused is returned when a guarded module flow has been halted by
// the operator.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module flow is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module flow is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
