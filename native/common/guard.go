package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches controlled by the admin surface.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutations against a paused module. A nil view means pausing is
// not wired and the guard passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
