package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/arbiter"
)

// Harness bundles one instance of every simulated collaborator.
type Harness struct {
	A2dp       *ClassicProfile
	Hfp        *ClassicProfile
	HearingAid *HearingAidProfile
	LeAudio    *LeAudioProfile
	DB         *Database
	Audio      *AudioRouter
	Host       *HostInfo
	Switcher   *RouteSwitcher
}

// NewHarness creates a fresh set of simulated collaborators.
func NewHarness(logger *logrus.Logger) *Harness {
	if logger == nil {
		logger = logrus.New()
	}
	return &Harness{
		A2dp:       NewClassicProfile("a2dp", logger),
		Hfp:        NewClassicProfile("hfp", logger),
		HearingAid: NewHearingAidProfile(logger),
		LeAudio:    NewLeAudioProfile(logger),
		DB:         NewDatabase(),
		Audio:      NewAudioRouter(),
		Host:       NewHostInfo(),
		Switcher:   NewRouteSwitcher(),
	}
}

// Collaborators adapts the harness to the engine's collaborator set.
func (h *Harness) Collaborators() arbiter.Collaborators {
	return arbiter.Collaborators{
		A2dp:       h.A2dp,
		Hfp:        h.Hfp,
		HearingAid: h.HearingAid,
		LeAudio:    h.LeAudio,
		DB:         h.DB,
		Audio:      h.Audio,
		Host:       h.Host,
	}
}
