package arbiter_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/btroute/internal/profile"
)

// FallbackTestSuite exercises the fallback tiers under the different audio
// modes. It reuses the arbiter suite harness and helpers.
type FallbackTestSuite struct {
	ArbiterTestSuite
}

func (s *FallbackTestSuite) TestRingtoneFallbackRequiresInbandRinging() {
	s.h.Audio.SetMode(profile.ModeRingtone)
	s.connect(profile.FamilyHfp, headset1)
	s.Require().Equal(headset1, s.active(profile.FamilyHfp))

	s.h.Hfp.SetFallbackDevice(headset2)
	s.connect(profile.FamilyHfp, headset2)
	s.Require().Equal(headset2, s.active(profile.FamilyHfp))

	s.Run("without in-band ringing no reroute is commanded", func() {
		before := len(s.h.Hfp.Calls())
		s.disconnect(profile.FamilyHfp, headset2)
		s.Equal(before, len(s.h.Hfp.Calls()))
	})

	s.Run("the subsystem's own clear is adopted without a fallback", func() {
		s.m.ProfileActiveDeviceChanged(profile.FamilyHfp, profile.NoDevice)
		s.m.Flush()
		s.Empty(s.m.ActiveDevices(profile.FamilyHfp))
	})
}

func (s *FallbackTestSuite) TestRingtoneFallbackWithInbandRinging() {
	s.h.Audio.SetMode(profile.ModeRingtone)
	s.h.Hfp.SetInbandRinging(true)
	s.connect(profile.FamilyHfp, headset1)
	s.connect(profile.FamilyHfp, headset2)
	s.Require().Equal(headset2, s.active(profile.FamilyHfp))

	s.h.Hfp.SetFallbackDevice(headset1)
	s.disconnect(profile.FamilyHfp, headset2)

	s.Equal(headset1, s.active(profile.FamilyHfp))
}

func (s *FallbackTestSuite) TestInCallFallbackPrefersHfp() {
	s.h.Audio.SetMode(profile.ModeInCall)
	s.connect(profile.FamilyHfp, headset1)
	s.connect(profile.FamilyHfp, headset2)
	s.Require().Equal(headset2, s.active(profile.FamilyHfp))

	s.h.Hfp.SetFallbackDevice(headset1)
	s.disconnect(profile.FamilyHfp, headset2)

	s.Equal(headset1, s.active(profile.FamilyHfp))
}

func (s *FallbackTestSuite) TestLeAudioFallbackAfterA2dpDisconnect() {
	s.h.LeAudio.AddGroupDevice(earbud1, 1)
	s.connect(profile.FamilyLeAudio, earbud1)
	s.connect(profile.FamilyA2dp, headset1)
	s.Require().Equal(headset1, s.active(profile.FamilyA2dp))
	s.Require().Empty(s.m.ActiveDevices(profile.FamilyLeAudio))

	s.disconnect(profile.FamilyA2dp, headset1)

	s.Equal(earbud1, s.active(profile.FamilyLeAudio))
	s.Empty(s.m.ActiveDevices(profile.FamilyA2dp))
}

func (s *FallbackTestSuite) TestGroupMemberDisconnectIsQuietNoop() {
	s.h.LeAudio.AddGroupDevice(earbud1, 1)
	s.h.LeAudio.AddGroupDevice(earbud2, 1)
	s.connect(profile.FamilyLeAudio, earbud1)
	s.connect(profile.FamilyLeAudio, earbud2)
	s.Require().Equal(earbud1, s.active(profile.FamilyLeAudio))

	before := len(s.h.LeAudio.Calls())
	s.disconnect(profile.FamilyLeAudio, earbud1)

	// The surviving member carries the stream; no reroute command is issued
	// and the subsystem learns a fallback exists.
	s.Equal(before, len(s.h.LeAudio.Calls()))
	s.True(s.h.LeAudio.LastDisconnectHadFallback())
	s.Equal(earbud1, s.active(profile.FamilyLeAudio))
}

func TestFallbackTestSuite(t *testing.T) {
	suite.Run(t, new(FallbackTestSuite))
}
