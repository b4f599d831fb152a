// Package common holds helpers shared by the native modules.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by mutating calls into a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports per-module pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// PauseFunc adapts a function to PauseView.
type PauseFunc func(module string) bool

// IsPaused implements PauseView.
func (f PauseFunc) IsPaused(module string) bool { return f(module) }

// Guard fails with ErrModulePaused when module is paused. A nil view never
// pauses anything.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
