package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/srg/btroute/internal/profile"
)

// formatUserError rewrites engine and filesystem errors into messages a user
// can act on. Unknown errors pass through unchanged.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("%v (check the scenario file path)", err)
	case errors.Is(err, profile.ErrNotStarted):
		return "arbitration engine is not running"
	case profile.IsRequestReason(err, profile.ReasonInProgress):
		return "a preference change for this device is already in flight"
	case profile.IsRequestReason(err, profile.ReasonTimeout):
		return "the audio subsystems did not confirm the route change in time"
	case profile.IsRequestReason(err, profile.ReasonRejected):
		return fmt.Sprintf("request rejected: %v", err)
	default:
		return err.Error()
	}
}
