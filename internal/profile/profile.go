package profile

// Device is an opaque, stable identifier for a peer device (MAC-style string).
// The zero value means "no device".
type Device string

// NoDevice is the absent-device value used when an active assignment is cleared.
const NoDevice Device = ""

// IsNone reports whether d is the absent-device value.
func (d Device) IsNone() bool {
	return d == NoDevice
}

// Family identifies one of the mutually-related audio profile families whose
// active device the engine arbitrates.
type Family int

const (
	// FamilyA2dp is classic stereo audio (media streaming).
	FamilyA2dp Family = iota
	// FamilyHfp is classic hands-free call audio.
	FamilyHfp
	// FamilyHearingAid is the proprietary (ASHA) hearing-aid profile.
	FamilyHearingAid
	// FamilyLeAudio is LE audio unicast.
	FamilyLeAudio
	// FamilyLeHearingAid is the LE hearing-aid (HAP) profile.
	FamilyLeHearingAid
)

var familyNames = map[Family]string{
	FamilyA2dp:         "a2dp",
	FamilyHfp:          "hfp",
	FamilyHearingAid:   "hearing_aid",
	FamilyLeAudio:      "le_audio",
	FamilyLeHearingAid: "le_hearing_aid",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return "unknown"
}

// Families returns all arbitrated families in priority-neutral declaration order.
func Families() []Family {
	return []Family{FamilyA2dp, FamilyHfp, FamilyHearingAid, FamilyLeAudio, FamilyLeHearingAid}
}

// ConnState is a profile subsystem's connection state for a device.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Policy is a persisted per-device, per-family connection policy.
type Policy int

const (
	PolicyUnknown Policy = iota
	PolicyAllowed
	PolicyForbidden
)

func (p Policy) String() string {
	switch p {
	case PolicyAllowed:
		return "allowed"
	case PolicyForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// AudioMode is the audio framework's current phone-audio mode. Anything that
// is neither Normal nor Ringtone is treated as in-call by the fallback logic.
type AudioMode int

const (
	ModeNormal AudioMode = iota
	ModeRingtone
	ModeInCall
)

func (m AudioMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRingtone:
		return "ringtone"
	default:
		return "in_call"
	}
}

// GroupID identifies a CSIP coordinated set of LE audio devices.
type GroupID int

// GroupInvalid marks a device that is not part of any coordinated set.
const GroupInvalid GroupID = -1

// HiSyncID groups hearing-aid devices that share one binaural sync id.
type HiSyncID int64

// HiSyncInvalid marks a device without a hearing-aid sync id.
const HiSyncInvalid HiSyncID = 0
