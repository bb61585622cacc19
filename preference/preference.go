// Package preference implements the audio-preference negotiation workflow
// for dual-mode capable device groups: switching the output-only and duplex
// roles between classic and LE audio routing, with asynchronous confirmation
// from the audio-routing subsystem bounded by a deadline.
package preference

import (
	"fmt"

	"github.com/srg/btroute/internal/profile"
)

// Role is an audio direction whose routing family can be preferred
// independently.
type Role int

const (
	// RoleOutputOnly is media playback (phone to peer only).
	RoleOutputOnly Role = iota
	// RoleDuplex is bidirectional call audio.
	RoleDuplex
)

func (r Role) String() string {
	switch r {
	case RoleOutputOnly:
		return "output_only"
	case RoleDuplex:
		return "duplex"
	default:
		return "unknown"
	}
}

// Bundle is a complete per-role routing preference for a device group.
type Bundle struct {
	OutputOnly profile.Family `yaml:"output_only"`
	Duplex     profile.Family `yaml:"duplex"`
}

// DefaultBundle is the classic-routing preference used before any explicit
// choice is persisted.
func DefaultBundle() Bundle {
	return Bundle{OutputOnly: profile.FamilyA2dp, Duplex: profile.FamilyHfp}
}

// Validate checks that each role names a family able to carry it.
func (b Bundle) Validate() error {
	switch b.OutputOnly {
	case profile.FamilyA2dp, profile.FamilyLeAudio:
	default:
		return fmt.Errorf("%w: family %s cannot carry output-only audio",
			profile.ErrRequestRejected, b.OutputOnly)
	}
	switch b.Duplex {
	case profile.FamilyHfp, profile.FamilyLeAudio:
	default:
		return fmt.Errorf("%w: family %s cannot carry duplex audio",
			profile.ErrRequestRejected, b.Duplex)
	}
	return nil
}

// family returns the bundle's preference for a role.
func (b Bundle) family(r Role) profile.Family {
	if r == RoleDuplex {
		return b.Duplex
	}
	return b.OutputOnly
}

// Store persists per-device preference bundles; owned by the external
// device database collaborator.
type Store interface {
	PreferredProfiles(d profile.Device) Bundle
	SetPreferredProfiles(d profile.Device, b Bundle)
}

// Groups resolves devices to their CSIP coordinated set.
type Groups interface {
	GroupID(d profile.Device) profile.GroupID
}

// Routes reports which family currently carries a role for a group; the
// negotiator skips requests whose target route is already in place.
type Routes interface {
	ActiveFamily(g profile.GroupID, role Role) (profile.Family, bool)
}

// RoutesFunc adapts a function to the Routes interface.
type RoutesFunc func(g profile.GroupID, role Role) (profile.Family, bool)

func (f RoutesFunc) ActiveFamily(g profile.GroupID, role Role) (profile.Family, bool) {
	return f(g, role)
}

// Switcher issues routing-change requests to the audio-routing subsystem.
// Requests are fire-and-forget; each successful request produces exactly one
// later confirmation through NotifyActiveDeviceChangeApplied.
type Switcher interface {
	RequestRouteSwitch(g profile.GroupID, role Role, fam profile.Family) bool
}
