package common

import (
	"errors"
	"strings"
)

var (
	ErrUnauthorized = errors.New("capability required")
	// ErrCapabilityMismatch signals a capability bound to a different
	// aggregate instance than the one it was presented to.
	ErrCapabilityMismatch = errors.New("capability bound to another instance")
)

// CheckBinding verifies a capability's bound identity against the target
// aggregate identity. Empty credentials are rejected outright.
func CheckBinding(boundID, targetID string) error {
	bound := strings.TrimSpace(boundID)
	target := strings.TrimSpace(targetID)
	if bound == "" || target == "" {
		return ErrUnauthorized
	}
	if bound != target {
		return ErrCapabilityMismatch
	}
	return nil
}
