package profile

// AudioProfile is the minimal control surface every profile subsystem exposes
// to the arbiter. Implementations must not call back into the arbiter
// synchronously; confirmations re-enter through the queued callback path.
type AudioProfile interface {
	// Connect asks the subsystem to connect the device. Fire-and-forget;
	// the result is observed through a later connection state callback.
	Connect(d Device) bool

	// SetActiveDevice makes d the subsystem's active device. A false return
	// leaves prior state intact (CollaboratorFailure, no retry).
	SetActiveDevice(d Device) bool

	// RemoveActiveDevice clears the subsystem's active device.
	// hasFallbackDevice tells the subsystem whether the arbiter picked a
	// replacement, so it can choose a no-fallback teardown style.
	RemoveActiveDevice(hasFallbackDevice bool) bool
}

// FallbackQuerier reports the subsystem's own preferred fallback device.
type FallbackQuerier interface {
	// FallbackDevice returns the device the subsystem would fall back to,
	// or ok=false when it has none.
	FallbackDevice() (Device, bool)
}

// A2dpProvider is the classic stereo audio collaborator.
type A2dpProvider interface {
	AudioProfile
	FallbackQuerier
}

// HfpProvider is the classic call audio collaborator.
type HfpProvider interface {
	AudioProfile
	FallbackQuerier

	// CallAudioPolicy is the device's sink-audio policy for activation after
	// connection; PolicyForbidden vetoes HFP activation entirely.
	CallAudioPolicy(d Device) Policy

	// InbandRingingEnabled reports whether HFP in-band ringing is on. The
	// fallback selector only considers the HFP fallback during ringtone mode
	// when this is set.
	InbandRingingEnabled() bool
}

// HearingAidProvider is the proprietary hearing-aid collaborator. Members of
// one hiSyncId set are activated and deactivated as a unit.
type HearingAidProvider interface {
	AudioProfile

	HiSyncID(d Device) HiSyncID
	ConnectedPeerDevices(id HiSyncID) []Device
}

// LeAudioProvider is the LE audio unicast collaborator; it also owns the CSIP
// group topology and the broadcast state the arbiter consults.
type LeAudioProvider interface {
	AudioProfile

	GroupID(d Device) GroupID
	GroupDevices(id GroupID) []Device

	// IsGroupAvailableForStream reports whether the group is currently
	// eligible to carry a unicast stream (e.g. not out of range).
	IsGroupAvailableForStream(id GroupID) bool

	// LeadDevice resolves a set member to the device representing its group.
	LeadDevice(d Device) Device

	// IsBroadcastingAudio reports whether an LE broadcast source is
	// streaming; broadcasting suppresses all activation decisions.
	IsBroadcastingAudio() bool

	// DeviceConnected / DeviceDisconnected keep the subsystem's own group
	// bookkeeping in step with the arbiter's view. hasFallbackDevice tells
	// the subsystem whether a replacement was activated.
	DeviceConnected(d Device)
	DeviceDisconnected(d Device, hasFallbackDevice bool)
}

// Database is the persistent device/priority store consulted for connection
// policy and connection recency. Owned by an external collaborator; the
// arbiter holds no persistent state of its own.
type Database interface {
	// ConnectionPolicy returns the persisted policy of family f for device d.
	ConnectionPolicy(d Device, f Family) Policy

	// MostRecentlyConnected picks the most recently connected device out of
	// candidates, or ok=false when candidates is empty.
	MostRecentlyConnected(candidates []Device) (d Device, ok bool)
}

// AudioRouter exposes the audio framework state the arbiter reacts to.
type AudioRouter interface {
	Mode() AudioMode
}

// HostInfo answers host-level questions about the adapter and peer devices.
type HostInfo interface {
	// DualModeAudioEnabled reports whether classic and LE audio routing may
	// be active together for a dual-mode peer.
	DualModeAudioEnabled() bool

	// AllClassicProfilesActive reports whether every classic audio profile
	// the device supports is currently active for it.
	AllClassicProfilesActive(d Device) bool

	// IsWatch reports whether the device is a watch-category peer; watches
	// are never force-activated for call audio.
	IsWatch(d Device) bool
}
