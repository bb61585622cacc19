package arbiter

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/internal/profile"
)

// ProfileConnectionStateChanged ingests a profile subsystem's connection
// state transition for a device. Only edges into and out of StateConnected
// matter to arbitration; everything else is ignored.
func (m *Manager) ProfileConnectionStateChanged(f profile.Family, d profile.Device, from, to profile.ConnState) {
	switch {
	case to == profile.StateConnected:
		m.post(func() { m.handleConnected(f, d) })
	case from == profile.StateConnected:
		m.post(func() { m.handleDisconnected(f, d) })
	}
}

// ProfileActiveDeviceChanged ingests an authoritative active-device update
// from a profile subsystem, including changes the engine did not initiate
// (e.g. a UI action). d is NoDevice when the profile lost its active device.
func (m *Manager) ProfileActiveDeviceChanged(f profile.Family, d profile.Device) {
	m.post(func() { m.handleActiveChanged(f, d) })
}

// AdapterStateChanged ingests adapter power transitions; entering AdapterOn
// resets all in-memory arbitration state.
func (m *Manager) AdapterStateChanged(prev, cur AdapterState) {
	m.logger.WithFields(logrus.Fields{
		"prev": prev,
		"cur":  cur,
	}).Debug("Adapter state changed")
	if cur == AdapterOn {
		m.post(m.resetState)
	}
}

// WiredAccessoryChanged ingests OS notification of a wired audio accessory
// attach (connected=true) or detach.
func (m *Manager) WiredAccessoryChanged(connected bool) {
	if connected {
		m.post(m.handleWiredConnected)
	} else {
		m.post(func() { m.selectFallback(profile.NoDevice) })
	}
}

// collaboratorPresent reports whether family f has a registered control
// surface; events for absent collaborators are logged and dropped.
func (m *Manager) collaboratorPresent(f profile.Family) bool {
	if m.profiles[f] != nil {
		return true
	}
	m.logger.WithError(profile.ErrNoCollaborator).WithField("family", f).Warn("Dropping event")
	return false
}

func (m *Manager) handleConnected(f profile.Family, d profile.Device) {
	if !m.collaboratorPresent(f) {
		return
	}
	switch f {
	case profile.FamilyA2dp:
		m.handleA2dpConnected(d)
	case profile.FamilyHfp:
		m.handleHfpConnected(d)
	case profile.FamilyHearingAid:
		m.handleHearingAidConnected(d)
	case profile.FamilyLeAudio:
		m.handleLeAudioConnected(d)
	case profile.FamilyLeHearingAid:
		m.handleLeHearingAidConnected(d)
	}
}

func (m *Manager) handleDisconnected(f profile.Family, d profile.Device) {
	if !m.collaboratorPresent(f) {
		return
	}
	switch f {
	case profile.FamilyA2dp:
		m.handleA2dpDisconnected(d)
	case profile.FamilyHfp:
		m.handleHfpDisconnected(d)
	case profile.FamilyHearingAid:
		m.handleHearingAidDisconnected(d)
	case profile.FamilyLeAudio:
		m.handleLeAudioDisconnected(d)
	case profile.FamilyLeHearingAid:
		m.handleLeHearingAidDisconnected(d)
	}
}

func (m *Manager) handleActiveChanged(f profile.Family, d profile.Device) {
	if !m.collaboratorPresent(f) {
		return
	}
	switch f {
	case profile.FamilyA2dp:
		m.handleA2dpActiveChanged(d)
	case profile.FamilyHfp:
		m.handleHfpActiveChanged(d)
	case profile.FamilyHearingAid:
		m.handleHearingAidActiveChanged(d)
	case profile.FamilyLeAudio:
		m.handleLeAudioActiveChanged(d)
	}
}

// hearingAidFamilyActive reports whether either hearing-aid family holds the
// exclusive activation lock; classic and LE unicast never preempt them.
func (m *Manager) hearingAidFamilyActive() bool {
	return len(m.hearingAidActive) > 0 || !m.leHearingAidActive.IsNone()
}

// suppressForBroadcast logs and emits the broadcast-guard suppression for an
// activation attempt of d.
func (m *Manager) suppressForBroadcast(f profile.Family, d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"family": f,
		"device": d,
	}).Info("LE audio broadcast is streaming, skipping activation")
	m.emit(Event{Kind: EventSuppressed, Family: f, Device: d})
}

func (m *Manager) handleA2dpConnected(d profile.Device) {
	m.logger.WithField("device", d).Debug("A2DP connected")
	if !m.reg.Add(profile.FamilyA2dp, d) {
		return
	}
	if m.isBroadcasting() {
		m.suppressForBroadcast(profile.FamilyA2dp, d)
		m.cancelPendingSync()
		return
	}
	if m.hearingAidFamilyActive() {
		return
	}

	// Activate A2DP and HFP together when both are already connected.
	if m.reg.Contains(profile.FamilyHfp, d) {
		a2dpMadeActive := m.setA2dpActive(d)
		hfpMadeActive := m.setHfpActive(d)
		if (a2dpMadeActive || hfpMadeActive) && !m.dualMode() {
			m.clearLeAudioActive(true)
		}
		return
	}

	// Activate A2DP alone when HFP is not expected, else wait for it.
	if m.connectionPolicy(d, profile.FamilyHfp) != profile.PolicyAllowed ||
		m.audioMode() == profile.ModeNormal {
		if m.setA2dpActive(d) && !m.dualMode() {
			m.clearLeAudioActive(true)
		}
	} else {
		m.logger.WithField("device", d).Debug("A2DP activation deferred until HFP connects")
		m.armPendingSync(d, func() {
			m.logger.WithField("device", d).Warn("HFP connection timed out, activating A2DP alone")
			m.setA2dpActive(d)
		})
	}
}

func (m *Manager) handleHfpConnected(d profile.Device) {
	m.logger.WithField("device", d).Debug("HFP connected")
	if !m.reg.Add(profile.FamilyHfp, d) {
		return
	}
	if m.isBroadcasting() {
		m.suppressForBroadcast(profile.FamilyHfp, d)
		m.cancelPendingSync()
		return
	}
	if m.hearingAidFamilyActive() {
		return
	}

	// Activate HFP and A2DP together when both are already connected.
	if m.reg.Contains(profile.FamilyA2dp, d) {
		a2dpMadeActive := m.setA2dpActive(d)
		hfpMadeActive := m.setHfpActive(d)
		if (a2dpMadeActive || hfpMadeActive) && !m.dualMode() {
			m.clearLeAudioActive(true)
		}
		return
	}

	// Activate HFP alone when A2DP is not expected, else wait for it.
	if m.connectionPolicy(d, profile.FamilyA2dp) != profile.PolicyAllowed ||
		m.audioMode() != profile.ModeNormal {
		if m.co.Host != nil && m.co.Host.IsWatch(d) {
			m.logger.WithField("device", d).Info("Not setting HFP active for a watch device")
			return
		}
		if m.setHfpActive(d) && !m.dualMode() {
			m.clearLeAudioActive(true)
		}
	} else {
		m.logger.WithField("device", d).Debug("HFP activation deferred until A2DP connects")
		m.armPendingSync(d, func() {
			m.logger.WithField("device", d).Warn("A2DP connection timed out, activating HFP alone")
			m.setHfpActive(d)
		})
	}
}

func (m *Manager) handleHearingAidConnected(d profile.Device) {
	m.logger.WithField("device", d).Debug("Hearing aid connected")
	if !m.reg.Add(profile.FamilyHearingAid, d) {
		return
	}
	if m.isBroadcasting() {
		m.suppressForBroadcast(profile.FamilyHearingAid, d)
		return
	}
	// Hearing aids always preempt classic and LE unicast.
	if m.setHearingAidActive(d) {
		m.clearA2dpActive(true)
		m.clearHfpActive(true)
		m.clearLeAudioActive(true)
	}
}

func (m *Manager) handleLeAudioConnected(d profile.Device) {
	m.logger.WithField("device", d).Debug("LE audio connected")
	p := m.co.LeAudio
	if p == nil || d.IsNone() {
		return
	}
	p.DeviceConnected(d)

	if !m.reg.Add(profile.FamilyLeAudio, d) {
		return
	}
	if m.isBroadcasting() {
		m.suppressForBroadcast(profile.FamilyLeAudio, d)
		return
	}
	if !p.IsGroupAvailableForStream(p.GroupID(d)) {
		m.logger.WithField("device", d).Info("LE audio group is not available for streaming")
		return
	}

	if !m.hearingAidFamilyActive() && len(m.pendingLeHearingAid) == 0 {
		if m.setLeAudioActive(d) && !m.dualMode() {
			m.clearA2dpActive(true)
			m.clearHfpActive(true)
		}
	} else if containsDevice(m.pendingLeHearingAid, d) {
		// The HAP connect arrived first; promote to LE hearing aid now.
		if m.setLeHearingAidActive(d) {
			m.clearHearingAidActive(true)
			m.clearA2dpActive(true)
			m.clearHfpActive(true)
		}
	}
}

func (m *Manager) handleLeHearingAidConnected(d profile.Device) {
	m.logger.WithField("device", d).Debug("LE hearing aid connected")
	if !m.reg.Add(profile.FamilyLeHearingAid, d) {
		return
	}
	if m.isBroadcasting() {
		m.suppressForBroadcast(profile.FamilyLeHearingAid, d)
		return
	}

	switch {
	case !m.reg.Contains(profile.FamilyLeAudio, d):
		// LE audio has not connected yet; park until it does.
		m.pendingLeHearingAid = append(m.pendingLeHearingAid, d)
	case m.leAudioActive == d:
		m.leHearingAidActive = d
		m.publish(profile.FamilyLeHearingAid)
	default:
		if m.setLeHearingAidActive(d) {
			m.clearHearingAidActive(true)
			m.clearA2dpActive(true)
			m.clearHfpActive(true)
		}
	}
}

func (m *Manager) handleA2dpDisconnected(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.a2dpActive,
	}).Debug("A2DP disconnected")
	m.reg.Remove(profile.FamilyA2dp, d)
	if m.a2dpActive == d {
		if !m.selectFallback(d) {
			m.clearA2dpActive(false)
		}
	}
}

func (m *Manager) handleHfpDisconnected(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.hfpActive,
	}).Debug("HFP disconnected")
	m.reg.Remove(profile.FamilyHfp, d)
	if m.hfpActive == d {
		if m.reg.Len(profile.FamilyHfp) == 0 {
			m.clearHfpActive(false)
		}
		m.selectFallback(d)
	}
}

func (m *Manager) handleHearingAidDisconnected(d profile.Device) {
	m.logger.WithField("device", d).Debug("Hearing aid disconnected")
	m.reg.Remove(profile.FamilyHearingAid, d)
	if _, wasActive := m.hearingAidActive[d]; !wasActive {
		return
	}
	delete(m.hearingAidActive, d)
	m.publish(profile.FamilyHearingAid)
	if len(m.hearingAidActive) == 0 {
		if !m.selectFallback(d) {
			m.clearHearingAidActive(false)
		}
	}
}

func (m *Manager) handleLeAudioDisconnected(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.leAudioActive,
	}).Debug("LE audio disconnected")
	p := m.co.LeAudio
	if p == nil || d.IsNone() {
		return
	}

	m.reg.Remove(profile.FamilyLeAudio, d)
	// HAP connectivity rides on the same LE link; keep both views in step.
	if m.reg.Contains(profile.FamilyLeHearingAid, d) {
		m.reg.Remove(profile.FamilyLeHearingAid, d)
	}

	hasFallback := false
	if m.leAudioActive == d {
		hasFallback = m.selectFallback(d)
	}
	p.DeviceDisconnected(d, hasFallback)
}

func (m *Manager) handleLeHearingAidDisconnected(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.leHearingAidActive,
	}).Debug("LE hearing aid disconnected")
	m.reg.Remove(profile.FamilyLeHearingAid, d)
	m.pendingLeHearingAid = removeDevice(m.pendingLeHearingAid, d)
	if m.leHearingAidActive == d {
		m.leHearingAidActive = profile.NoDevice
		m.publish(profile.FamilyLeHearingAid)
	}
}

func (m *Manager) handleA2dpActiveChanged(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.a2dpActive,
	}).Debug("A2DP active device changed")
	if m.a2dpActive != d {
		if !d.IsNone() {
			m.clearHearingAidActive(true)
		}
		m.updateLeAudioIfDualMode(m.a2dpActive, d)
	}

	m.a2dpActive = d
	m.publish(profile.FamilyA2dp)
	m.notifyRouteChange(d)

	if !d.IsNone() {
		m.syncSiblingClassic(d, profile.FamilyHfp)
	}
}

func (m *Manager) handleHfpActiveChanged(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.hfpActive,
	}).Debug("HFP active device changed")
	if m.hfpActive != d {
		if !d.IsNone() {
			m.clearHearingAidActive(true)
		}
		m.updateLeAudioIfDualMode(m.hfpActive, d)

		if !m.dualMode() && d.IsNone() {
			m.logger.Debug("HFP active device cleared, trying fallback")
			m.selectFallback(m.hfpActive)
		}
	}

	m.hfpActive = d
	m.publish(profile.FamilyHfp)
	m.notifyRouteChange(d)

	if !d.IsNone() {
		m.syncSiblingClassic(d, profile.FamilyA2dp)
	}
}

func (m *Manager) handleHearingAidActiveChanged(d profile.Device) {
	m.logger.WithField("device", d).Debug("Hearing aid active device changed")
	p := m.co.HearingAid
	if p != nil {
		if d.IsNone() {
			m.hearingAidActive = make(map[profile.Device]struct{})
		} else {
			id := p.HiSyncID(d)
			if id != profile.HiSyncInvalid && m.hearingAidActiveHiSyncID() == id {
				m.hearingAidActive[d] = struct{}{}
			} else {
				m.hearingAidActive = make(map[profile.Device]struct{})
				for _, peer := range p.ConnectedPeerDevices(id) {
					m.hearingAidActive[peer] = struct{}{}
				}
			}
		}
		m.publish(profile.FamilyHearingAid)
	}
	if !d.IsNone() {
		m.clearA2dpActive(true)
		m.clearHfpActive(true)
		m.clearLeAudioActive(true)
	}
}

func (m *Manager) handleLeAudioActiveChanged(d profile.Device) {
	m.logger.WithFields(logrus.Fields{
		"device": d,
		"active": m.leAudioActive,
	}).Debug("LE audio active device changed")
	if !d.IsNone() && !m.reg.Contains(profile.FamilyLeAudio, d) {
		m.logger.WithError(profile.ErrNotConnected).WithField("device", d).Warn("Ignoring activation of an unknown device")
		return
	}

	if !d.IsNone() && m.leAudioActive != d {
		if !m.dualMode() {
			m.clearA2dpActive(true)
			m.clearHfpActive(true)
		}
		m.clearHearingAidActive(true)
	}

	if !d.IsNone() && m.reg.Contains(profile.FamilyLeHearingAid, d) {
		m.leHearingAidActive = d
		m.publish(profile.FamilyLeHearingAid)
	}

	// A device connected over both HFP and LE audio should fall back to the
	// classic route when its LE route goes away. Broadcast teardown also
	// clears the active device; no fallback is wanted then.
	if d.IsNone() && !m.dualMode() && !m.isBroadcasting() {
		m.logger.Debug("LE audio active device cleared, trying fallback")
		m.selectFallback(m.leAudioActive)
	}

	m.leAudioActive = d
	m.publish(profile.FamilyLeAudio)
	m.notifyRouteChange(d)
}

// updateLeAudioIfDualMode couples the LE audio assignment to a classic
// profile's active change for dual-mode compatible peers.
func (m *Manager) updateLeAudioIfDualMode(prev, next profile.Device) {
	if !m.dualMode() || m.co.Host == nil {
		return
	}
	if !next.IsNone() {
		if m.co.Host.AllClassicProfilesActive(next) {
			m.setLeAudioActive(next)
		}
	} else if !prev.IsNone() && m.co.Host.AllClassicProfilesActive(prev) {
		m.clearLeAudioActive(true)
	}
}

// syncSiblingClassic activates the sibling classic profile for d after an
// externally-observed activation, while suppressing the echo the engine's
// own sibling activation will produce. The suppression bookkeeping mirrors a
// two-slot protocol: the device we just commanded (toActivate) and, when a
// second activation arrives before the first echo, the device whose echo
// must not retrigger (notToActivate).
func (m *Manager) syncSiblingClassic(d profile.Device, sibling profile.Family) {
	if m.classicNotToActivate == d {
		m.cancel(timerKey{timerClassicNotToActivate, d})
		m.classicNotToActivate = profile.NoDevice
		return
	}
	if m.classicToActivate == d {
		m.cancel(timerKey{timerClassicToActivate, d})
		m.classicToActivate = profile.NoDevice
	}

	if !m.classicToActivate.IsNone() {
		prev := m.classicToActivate
		m.cancel(timerKey{timerClassicToActivate, prev})
		m.classicToActivate = profile.NoDevice
		m.classicNotToActivate = prev
		m.schedule(timerKey{timerClassicNotToActivate, prev}, m.cfg.SyncWindow, func() {
			m.classicNotToActivate = profile.NoDevice
		})
	}

	siblingActive := m.hfpActive
	if sibling == profile.FamilyA2dp {
		siblingActive = m.a2dpActive
	}
	if siblingActive == d ||
		!m.reg.Contains(sibling, d) ||
		m.connectionPolicy(d, sibling) != profile.PolicyAllowed {
		return
	}

	m.classicToActivate = d
	if sibling == profile.FamilyA2dp {
		m.setA2dpActive(d)
	} else {
		m.setHfpActive(d)
	}
	m.schedule(timerKey{timerClassicToActivate, d}, m.cfg.SyncWindow, func() {
		m.classicToActivate = profile.NoDevice
	})
}

// handleWiredConnected clears every family's assignment; the audio framework
// has already rerouted output to the wired accessory.
func (m *Manager) handleWiredConnected() {
	m.logger.Debug("Wired audio accessory connected")
	m.clearA2dpActive(true)
	m.clearHfpActive(true)
	m.clearHearingAidActive(true)
	m.clearLeAudioActive(true)
}

// resetState drops every piece of in-memory state after an adapter power
// cycle. Collaborators are not commanded; the stack below has already reset.
func (m *Manager) resetState() {
	m.logger.Debug("Resetting arbitration state")
	m.reg.Reset()

	m.a2dpActive = profile.NoDevice
	m.hfpActive = profile.NoDevice
	m.hearingAidActive = make(map[profile.Device]struct{})
	m.leAudioActive = profile.NoDevice
	m.leHearingAidActive = profile.NoDevice

	m.pendingSync = profile.NoDevice
	m.pendingLeHearingAid = nil
	m.classicToActivate = profile.NoDevice
	m.classicNotToActivate = profile.NoDevice
	m.timerGen = make(map[timerKey]uint64)

	for _, f := range profile.Families() {
		m.publish(f)
	}
	m.emit(Event{Kind: EventReset})
}
