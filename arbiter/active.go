package arbiter

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/internal/profile"
)

// The set/clear helpers below are the only writers of the active assignments.
// Each issues exactly one command to the owning collaborator; a false return
// from the collaborator leaves prior state intact and is not retried.

// notifyRouteChange forwards a classic or LE activation of d to the
// preference negotiator when d belongs to a coordinated set, so a persisted
// preference that disagrees with the new route gets renegotiated.
func (m *Manager) notifyRouteChange(d profile.Device) {
	if m.co.Preference == nil || d.IsNone() {
		return
	}
	le := m.co.LeAudio
	if le == nil || le.GroupID(d) == profile.GroupInvalid {
		return
	}
	m.co.Preference.HandleActivationChanged(d)
}

// cancelPendingSync disarms an in-flight A2DP/HFP sync-activation window.
func (m *Manager) cancelPendingSync() {
	if m.pendingSync.IsNone() {
		return
	}
	m.cancel(timerKey{timerSyncActivation, m.pendingSync})
	m.pendingSync = profile.NoDevice
}

// armPendingSync defers activation of d until its sibling classic profile
// connects, or until the sync window elapses and fire activates it alone.
func (m *Manager) armPendingSync(d profile.Device, fire func()) {
	m.cancelPendingSync()
	m.pendingSync = d
	m.schedule(timerKey{timerSyncActivation, d}, m.cfg.SyncWindow, func() {
		m.pendingSync = profile.NoDevice
		fire()
	})
}

func (m *Manager) setA2dpActive(d profile.Device) bool {
	return m.applyA2dpActive(d, false)
}

func (m *Manager) clearA2dpActive(hasFallback bool) bool {
	return m.applyA2dpActive(profile.NoDevice, hasFallback)
}

func (m *Manager) applyA2dpActive(d profile.Device, hasFallback bool) bool {
	m.logger.WithFields(logrus.Fields{
		"device":      d,
		"hasFallback": hasFallback,
	}).Debug("Setting A2DP active device")
	m.cancelPendingSync()

	p := m.co.A2dp
	if p == nil {
		return false
	}
	var ok bool
	if d.IsNone() {
		ok = p.RemoveActiveDevice(hasFallback)
	} else {
		ok = p.SetActiveDevice(d)
	}
	if !ok {
		m.logger.WithField("device", d).Warn("A2DP collaborator rejected active device change")
		return false
	}
	m.a2dpActive = d
	m.publish(profile.FamilyA2dp)
	m.emitActive(profile.FamilyA2dp, d, hasFallback)
	m.notifyRouteChange(d)
	return true
}

func (m *Manager) setHfpActive(d profile.Device) bool {
	return m.applyHfpActive(d, false)
}

func (m *Manager) clearHfpActive(hasFallback bool) bool {
	return m.applyHfpActive(profile.NoDevice, hasFallback)
}

func (m *Manager) applyHfpActive(d profile.Device, hasFallback bool) bool {
	m.logger.WithField("device", d).Debug("Setting HFP active device")
	m.cancelPendingSync()

	p := m.co.Hfp
	if p == nil {
		return false
	}
	// A peer may forbid call-audio activation right after connection.
	if !d.IsNone() && p.CallAudioPolicy(d) == profile.PolicyForbidden {
		m.logger.WithField("device", d).Debug("Call audio policy forbids HFP activation")
		return false
	}
	var ok bool
	if d.IsNone() {
		ok = p.RemoveActiveDevice(hasFallback)
	} else {
		ok = p.SetActiveDevice(d)
	}
	if !ok {
		m.logger.WithField("device", d).Warn("HFP collaborator rejected active device change")
		return false
	}
	m.hfpActive = d
	m.publish(profile.FamilyHfp)
	m.emitActive(profile.FamilyHfp, d, hasFallback)
	m.notifyRouteChange(d)
	return true
}

func (m *Manager) setHearingAidActive(d profile.Device) bool {
	return m.applyHearingAidActive(d, false)
}

func (m *Manager) clearHearingAidActive(hasFallback bool) bool {
	return m.applyHearingAidActive(profile.NoDevice, hasFallback)
}

func (m *Manager) applyHearingAidActive(d profile.Device, hasFallback bool) bool {
	m.logger.WithFields(logrus.Fields{
		"device":      d,
		"hasFallback": hasFallback,
	}).Debug("Setting hearing aid active device")

	p := m.co.HearingAid
	if p == nil {
		return false
	}

	if d.IsNone() {
		if !p.RemoveActiveDevice(hasFallback) {
			return false
		}
		m.hearingAidActive = make(map[profile.Device]struct{})
		m.publish(profile.FamilyHearingAid)
		m.emitActive(profile.FamilyHearingAid, d, hasFallback)
		return true
	}

	id := p.HiSyncID(d)
	if id != profile.HiSyncInvalid && m.hearingAidActiveHiSyncID() == id {
		// Same binaural set as the current assignment; just record the member.
		m.hearingAidActive[d] = struct{}{}
		m.publish(profile.FamilyHearingAid)
		return true
	}

	if !p.SetActiveDevice(d) {
		m.logger.WithField("device", d).Warn("Hearing aid collaborator rejected active device change")
		return false
	}
	m.hearingAidActive = make(map[profile.Device]struct{})
	for _, peer := range p.ConnectedPeerDevices(id) {
		m.hearingAidActive[peer] = struct{}{}
	}
	m.publish(profile.FamilyHearingAid)
	m.emitActive(profile.FamilyHearingAid, d, hasFallback)
	return true
}

func (m *Manager) setLeAudioActive(d profile.Device) bool {
	return m.applyLeAudioActive(d, false)
}

func (m *Manager) clearLeAudioActive(hasFallback bool) bool {
	return m.applyLeAudioActive(profile.NoDevice, hasFallback)
}

func (m *Manager) applyLeAudioActive(d profile.Device, hasFallback bool) bool {
	m.logger.WithFields(logrus.Fields{
		"device":      d,
		"hasFallback": hasFallback,
	}).Debug("Setting LE audio active device")

	p := m.co.LeAudio
	if p == nil {
		return false
	}

	if d.IsNone() {
		if !p.RemoveActiveDevice(hasFallback) {
			return false
		}
		m.leAudioActive = profile.NoDevice
		m.leHearingAidActive = profile.NoDevice
		m.publish(profile.FamilyLeAudio)
		m.publish(profile.FamilyLeHearingAid)
		m.emitActive(profile.FamilyLeAudio, d, hasFallback)
		return true
	}

	if !m.leAudioActive.IsNone() && m.leAudioActive == p.LeadDevice(d) {
		m.logger.WithField("device", d).Debug("Device is a member of the already-active group")
		return true
	}

	if !p.SetActiveDevice(d) {
		m.logger.WithField("device", d).Warn("LE audio collaborator rejected active device change")
		return false
	}
	m.leAudioActive = p.LeadDevice(d)
	m.publish(profile.FamilyLeAudio)
	m.emitActive(profile.FamilyLeAudio, m.leAudioActive, hasFallback)
	m.notifyRouteChange(m.leAudioActive)
	return true
}

// setLeHearingAidActive activates an LE hearing aid: LE audio carries the
// stream, the LE-hearing-aid marker follows on success.
func (m *Manager) setLeHearingAidActive(d profile.Device) bool {
	if m.leAudioActive != d {
		if !m.applyLeAudioActive(d, false) {
			return false
		}
	}
	if m.leAudioActive == d {
		m.leHearingAidActive = d
		m.pendingLeHearingAid = removeDevice(m.pendingLeHearingAid, d)
		m.publish(profile.FamilyLeHearingAid)
		return true
	}
	// d was resolved to a different lead device; the marker stays unset.
	return false
}

// hearingAidActiveHiSyncID returns the sync id of the currently active
// hearing aid set, or HiSyncInvalid when none is active.
func (m *Manager) hearingAidActiveHiSyncID() profile.HiSyncID {
	p := m.co.HearingAid
	if p == nil {
		return profile.HiSyncInvalid
	}
	for d := range m.hearingAidActive {
		return p.HiSyncID(d)
	}
	return profile.HiSyncInvalid
}

func (m *Manager) emitActive(f profile.Family, d profile.Device, hasFallback bool) {
	if d.IsNone() {
		m.emit(Event{Kind: EventCleared, Family: f, HasFallback: hasFallback})
		return
	}
	m.emit(Event{Kind: EventActivated, Family: f, Device: d})
}

func removeDevice(devs []profile.Device, d profile.Device) []profile.Device {
	out := devs[:0]
	for _, dev := range devs {
		if dev != d {
			out = append(out, dev)
		}
	}
	return out
}

func containsDevice(devs []profile.Device, d profile.Device) bool {
	for _, dev := range devs {
		if dev == d {
			return true
		}
	}
	return false
}
