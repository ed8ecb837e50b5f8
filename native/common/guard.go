package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by operations of a halted module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the halt switches of the protocol modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused, naming the module, when p reports it
// halted. A nil view or an empty module name never blocks.
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
