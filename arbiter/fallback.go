package arbiter

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/internal/profile"
)

// selectFallback picks a replacement active device after recentlyRemoved
// lost its activation, and activates it. Hearing-aid families are always
// preferred; otherwise the most recently connected device among streamable
// LE audio devices and the audio-mode-appropriate classic fallback wins.
// Returns false when no fallback exists so the caller can clear its own
// assignment with hasFallbackDevice=false.
func (m *Manager) selectFallback(recentlyRemoved profile.Device) bool {
	m.logger.WithField("recentlyRemoved", recentlyRemoved).Debug("Selecting fallback device")

	if m.fallbackToHearingAid(recentlyRemoved) {
		return true
	}
	return m.fallbackToClassicOrLeAudio(recentlyRemoved)
}

// fallbackToHearingAid is fallback tier 1: connected hearing aids plus
// streamable LE hearing aid groups.
func (m *Manager) fallbackToHearingAid(recentlyRemoved profile.Device) bool {
	le := m.co.LeAudio

	candidates := append([]profile.Device{}, m.reg.Devices(profile.FamilyHearingAid)...)
	if le != nil {
		for _, d := range m.reg.Devices(profile.FamilyLeHearingAid) {
			if le.IsGroupAvailableForStream(le.GroupID(d)) {
				candidates = append(candidates, d)
			}
		}
	}
	if len(candidates) == 0 || m.co.DB == nil {
		return false
	}
	device, ok := m.co.DB.MostRecentlyConnected(candidates)
	if !ok {
		return false
	}

	// When the best candidate is the device we just removed and nothing else
	// is connected, the device merely switched family: downstream families
	// must not be told a fresh fallback exists.
	hasFallback := !(!recentlyRemoved.IsNone() && device == recentlyRemoved && len(candidates) == 1)

	if m.reg.Contains(profile.FamilyHearingAid, device) {
		m.logger.WithField("device", device).Debug("Found a hearing aid fallback device")
		m.setHearingAidActive(device)
		m.clearA2dpActive(hasFallback)
		m.clearHfpActive(hasFallback)
		m.clearLeAudioActive(hasFallback)
		return true
	}

	m.logger.WithField("device", device).Debug("Found a LE hearing aid fallback device")
	if m.sameGroupMembers(recentlyRemoved, device) {
		m.logger.Debug("Fallback device shares the removed device's group, nothing to do")
		return true
	}
	m.setLeHearingAidActive(device)
	m.clearHearingAidActive(hasFallback)
	m.clearA2dpActive(hasFallback)
	m.clearHfpActive(hasFallback)
	return true
}

// fallbackToClassicOrLeAudio is fallback tier 2: streamable LE audio unicast
// devices plus the classic fallback matching the current audio mode.
func (m *Manager) fallbackToClassicOrLeAudio(recentlyRemoved profile.Device) bool {
	le := m.co.LeAudio

	var a2dpFallback, hfpFallback profile.Device
	var haveA2dp, haveHfp bool
	if m.co.A2dp != nil {
		a2dpFallback, haveA2dp = m.co.A2dp.FallbackDevice()
	}
	if m.co.Hfp != nil {
		hfpFallback, haveHfp = m.co.Hfp.FallbackDevice()
	}

	var candidates []profile.Device
	if le != nil {
		for _, d := range m.reg.Devices(profile.FamilyLeAudio) {
			if le.IsGroupAvailableForStream(le.GroupID(d)) {
				candidates = append(candidates, d)
			}
		}
	}

	mode := m.audioMode()
	switch mode {
	case profile.ModeNormal:
		if haveA2dp {
			candidates = append(candidates, a2dpFallback)
		}
	case profile.ModeRingtone:
		if haveHfp && m.co.Hfp.InbandRingingEnabled() {
			candidates = append(candidates, hfpFallback)
		}
	default:
		if haveHfp {
			candidates = append(candidates, hfpFallback)
		}
	}

	if m.co.DB == nil {
		return false
	}
	device, ok := m.co.DB.MostRecentlyConnected(candidates)
	if !ok {
		m.logger.Debug("No fallback devices are found")
		return false
	}
	m.logger.WithFields(logrus.Fields{
		"device": device,
		"mode":   mode,
	}).Debug("Most recently connected fallback candidate")

	if mode == profile.ModeNormal {
		if haveA2dp && device == a2dpFallback {
			m.logger.WithField("device", device).Debug("Found an A2DP fallback device")
			m.setA2dpActive(device)
			if haveHfp {
				m.setHfpActive(hfpFallback)
			} else {
				m.clearHfpActive(true)
			}
			if !m.dualMode() {
				m.clearLeAudioActive(true)
			}
			m.clearHearingAidActive(true)
			return true
		}

		m.logger.WithField("device", device).Debug("Found a LE audio fallback device")
		if m.sameGroupMembers(recentlyRemoved, device) {
			m.logger.Debug("Fallback device shares the removed device's group, nothing to do")
			return true
		}
		if !m.setLeAudioActive(device) {
			return false
		}
		if !m.dualMode() {
			m.clearA2dpActive(true)
			m.clearHfpActive(true)
		}
		m.clearHearingAidActive(true)
		return true
	}

	if haveHfp && device == hfpFallback {
		m.logger.WithField("device", device).Debug("Found a HFP fallback device")
		m.setHfpActive(device)
		if haveA2dp {
			m.setA2dpActive(a2dpFallback)
		} else {
			m.clearA2dpActive(true)
		}
		if !m.dualMode() {
			m.clearLeAudioActive(true)
		}
		m.clearHearingAidActive(true)
		return true
	}

	m.logger.WithField("device", device).Debug("Found a LE audio fallback device")
	if m.sameGroupMembers(recentlyRemoved, device) {
		m.logger.Debug("Fallback device shares the removed device's group, nothing to do")
		return true
	}
	m.setLeAudioActive(device)
	if !m.dualMode() {
		m.clearA2dpActive(true)
		m.clearHfpActive(true)
	}
	m.clearHearingAidActive(true)
	return true
}

// sameGroupMembers reports whether two devices belong to the same CSIP
// coordinated set; invalid groups never match.
func (m *Manager) sameGroupMembers(a, b profile.Device) bool {
	if a.IsNone() || b.IsNone() {
		return false
	}
	le := m.co.LeAudio
	if le == nil {
		return false
	}
	ga, gb := le.GroupID(a), le.GroupID(b)
	if ga == profile.GroupInvalid || gb == profile.GroupInvalid {
		return false
	}
	return ga == gb
}
