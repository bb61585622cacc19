// Package sim provides scripted in-memory collaborators for the arbitration
// engine: profile subsystems, device database, audio router, and host info.
// The replay CLI and the test suites drive the engine against them.
package sim

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/preference"
)

// ActiveCall is one recorded activation command issued by the engine.
type ActiveCall struct {
	Device      profile.Device // NoDevice for removals
	HasFallback bool           // meaningful for removals only
}

// ClassicProfile simulates an A2DP or HFP subsystem. It satisfies both
// profile.A2dpProvider and profile.HfpProvider.
type ClassicProfile struct {
	mu     sync.Mutex
	name   string
	logger *logrus.Logger

	active         profile.Device
	fallback       profile.Device
	haveFallback   bool
	failActivation bool
	inbandRinging  bool
	callPolicy     map[profile.Device]profile.Policy

	calls []ActiveCall
}

// NewClassicProfile creates a simulated classic profile subsystem.
func NewClassicProfile(name string, logger *logrus.Logger) *ClassicProfile {
	if logger == nil {
		logger = logrus.New()
	}
	return &ClassicProfile{
		name:       name,
		logger:     logger,
		callPolicy: make(map[profile.Device]profile.Policy),
	}
}

func (p *ClassicProfile) Connect(d profile.Device) bool {
	p.logger.WithFields(logrus.Fields{"profile": p.name, "device": d}).Debug("Connect requested")
	return true
}

func (p *ClassicProfile) SetActiveDevice(d profile.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failActivation {
		return false
	}
	p.active = d
	p.calls = append(p.calls, ActiveCall{Device: d})
	return true
}

func (p *ClassicProfile) RemoveActiveDevice(hasFallbackDevice bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failActivation {
		return false
	}
	p.active = profile.NoDevice
	p.calls = append(p.calls, ActiveCall{Device: profile.NoDevice, HasFallback: hasFallbackDevice})
	return true
}

func (p *ClassicProfile) FallbackDevice() (profile.Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fallback, p.haveFallback
}

func (p *ClassicProfile) CallAudioPolicy(d profile.Device) profile.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pol, ok := p.callPolicy[d]; ok {
		return pol
	}
	return profile.PolicyUnknown
}

func (p *ClassicProfile) InbandRingingEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inbandRinging
}

// SetFallbackDevice scripts the device FallbackDevice reports.
func (p *ClassicProfile) SetFallbackDevice(d profile.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = d
	p.haveFallback = !d.IsNone()
}

// SetCallAudioPolicy scripts the per-device call audio policy.
func (p *ClassicProfile) SetCallAudioPolicy(d profile.Device, pol profile.Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callPolicy[d] = pol
}

// SetInbandRinging scripts the in-band ringing flag.
func (p *ClassicProfile) SetInbandRinging(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbandRinging = enabled
}

// FailActivation makes subsequent activation commands return false.
func (p *ClassicProfile) FailActivation(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failActivation = fail
}

// Active returns the subsystem's current active device.
func (p *ClassicProfile) Active() profile.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Calls returns every activation command recorded so far.
func (p *ClassicProfile) Calls() []ActiveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ActiveCall(nil), p.calls...)
}

// HearingAidProfile simulates the proprietary hearing-aid subsystem.
type HearingAidProfile struct {
	mu     sync.Mutex
	logger *logrus.Logger

	syncIDs   map[profile.Device]profile.HiSyncID
	connected map[profile.Device]struct{}
	active    profile.Device

	calls []ActiveCall
}

// NewHearingAidProfile creates a simulated hearing-aid subsystem.
func NewHearingAidProfile(logger *logrus.Logger) *HearingAidProfile {
	if logger == nil {
		logger = logrus.New()
	}
	return &HearingAidProfile{
		logger:    logger,
		syncIDs:   make(map[profile.Device]profile.HiSyncID),
		connected: make(map[profile.Device]struct{}),
	}
}

func (p *HearingAidProfile) Connect(d profile.Device) bool { return true }

func (p *HearingAidProfile) SetActiveDevice(d profile.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = d
	p.calls = append(p.calls, ActiveCall{Device: d})
	return true
}

func (p *HearingAidProfile) RemoveActiveDevice(hasFallbackDevice bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = profile.NoDevice
	p.calls = append(p.calls, ActiveCall{Device: profile.NoDevice, HasFallback: hasFallbackDevice})
	return true
}

func (p *HearingAidProfile) HiSyncID(d profile.Device) profile.HiSyncID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.syncIDs[d]; ok {
		return id
	}
	return profile.HiSyncInvalid
}

func (p *HearingAidProfile) ConnectedPeerDevices(id profile.HiSyncID) []profile.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	var peers []profile.Device
	if id == profile.HiSyncInvalid {
		return peers
	}
	for d := range p.connected {
		if p.syncIDs[d] == id {
			peers = append(peers, d)
		}
	}
	return peers
}

// AddDevice scripts a connected hearing aid with its sync id.
func (p *HearingAidProfile) AddDevice(d profile.Device, id profile.HiSyncID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncIDs[d] = id
	p.connected[d] = struct{}{}
}

// RemoveDevice drops a device from the subsystem's connected view.
func (p *HearingAidProfile) RemoveDevice(d profile.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.connected, d)
}

// Active returns the subsystem's current active device.
func (p *HearingAidProfile) Active() profile.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Calls returns every activation command recorded so far.
func (p *HearingAidProfile) Calls() []ActiveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ActiveCall(nil), p.calls...)
}

// LeAudioProfile simulates the LE audio subsystem including its CSIP group
// topology and broadcast state.
type LeAudioProfile struct {
	mu     sync.Mutex
	logger *logrus.Logger

	groups       map[profile.Device]profile.GroupID
	leads        map[profile.GroupID]profile.Device
	unstreamable map[profile.GroupID]struct{}
	broadcasting bool
	active       profile.Device

	calls         []ActiveCall
	disconnected  []profile.Device
	lastHadFallbk bool
}

// NewLeAudioProfile creates a simulated LE audio subsystem.
func NewLeAudioProfile(logger *logrus.Logger) *LeAudioProfile {
	if logger == nil {
		logger = logrus.New()
	}
	return &LeAudioProfile{
		logger:       logger,
		groups:       make(map[profile.Device]profile.GroupID),
		leads:        make(map[profile.GroupID]profile.Device),
		unstreamable: make(map[profile.GroupID]struct{}),
	}
}

func (p *LeAudioProfile) Connect(d profile.Device) bool { return true }

func (p *LeAudioProfile) SetActiveDevice(d profile.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = p.leadLocked(d)
	p.calls = append(p.calls, ActiveCall{Device: d})
	return true
}

func (p *LeAudioProfile) RemoveActiveDevice(hasFallbackDevice bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = profile.NoDevice
	p.calls = append(p.calls, ActiveCall{Device: profile.NoDevice, HasFallback: hasFallbackDevice})
	return true
}

func (p *LeAudioProfile) GroupID(d profile.Device) profile.GroupID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.groups[d]; ok {
		return g
	}
	return profile.GroupInvalid
}

func (p *LeAudioProfile) GroupDevices(id profile.GroupID) []profile.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	var devs []profile.Device
	for d, g := range p.groups {
		if g == id {
			devs = append(devs, d)
		}
	}
	return devs
}

func (p *LeAudioProfile) IsGroupAvailableForStream(id profile.GroupID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == profile.GroupInvalid {
		return false
	}
	_, blocked := p.unstreamable[id]
	return !blocked
}

func (p *LeAudioProfile) LeadDevice(d profile.Device) profile.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leadLocked(d)
}

func (p *LeAudioProfile) leadLocked(d profile.Device) profile.Device {
	if g, ok := p.groups[d]; ok {
		if lead, ok := p.leads[g]; ok {
			return lead
		}
	}
	return d
}

func (p *LeAudioProfile) IsBroadcastingAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broadcasting
}

func (p *LeAudioProfile) DeviceConnected(d profile.Device) {
	p.logger.WithField("device", d).Debug("LE audio subsystem notified of connect")
}

func (p *LeAudioProfile) DeviceDisconnected(d profile.Device, hasFallbackDevice bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, d)
	p.lastHadFallbk = hasFallbackDevice
}

// AddGroupDevice scripts d as a member of group g; the first member added
// becomes the group's lead device.
func (p *LeAudioProfile) AddGroupDevice(d profile.Device, g profile.GroupID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[d] = g
	if _, ok := p.leads[g]; !ok {
		p.leads[g] = d
	}
}

// SetGroupStreamable scripts whether group g may carry a unicast stream.
func (p *LeAudioProfile) SetGroupStreamable(g profile.GroupID, streamable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if streamable {
		delete(p.unstreamable, g)
	} else {
		p.unstreamable[g] = struct{}{}
	}
}

// SetBroadcasting scripts the LE broadcast state.
func (p *LeAudioProfile) SetBroadcasting(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasting = on
}

// Active returns the subsystem's current active device.
func (p *LeAudioProfile) Active() profile.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Calls returns every activation command recorded so far.
func (p *LeAudioProfile) Calls() []ActiveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ActiveCall(nil), p.calls...)
}

// LastDisconnectHadFallback reports the hasFallbackDevice value of the most
// recent DeviceDisconnected notification.
func (p *LeAudioProfile) LastDisconnectHadFallback() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHadFallbk
}

// Database simulates the persistent device database: connection policies,
// connection recency, and preferred audio profiles. It satisfies
// profile.Database and preference.Store.
type Database struct {
	mu sync.Mutex

	policies map[policyKey]profile.Policy
	recency  []profile.Device // most recent first
	prefs    map[profile.Device]preference.Bundle
}

type policyKey struct {
	device profile.Device
	family profile.Family
}

// NewDatabase creates an empty simulated database.
func NewDatabase() *Database {
	return &Database{
		policies: make(map[policyKey]profile.Policy),
		prefs:    make(map[profile.Device]preference.Bundle),
	}
}

func (db *Database) ConnectionPolicy(d profile.Device, f profile.Family) profile.Policy {
	db.mu.Lock()
	defer db.mu.Unlock()
	if pol, ok := db.policies[policyKey{d, f}]; ok {
		return pol
	}
	return profile.PolicyUnknown
}

func (db *Database) MostRecentlyConnected(candidates []profile.Device) (profile.Device, bool) {
	if len(candidates) == 0 {
		return profile.NoDevice, false
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, d := range db.recency {
		if containsDevice(candidates, d) {
			return d, true
		}
	}
	// No recency history; connection order is unknown, first candidate wins.
	return candidates[0], true
}

func (db *Database) PreferredProfiles(d profile.Device) preference.Bundle {
	db.mu.Lock()
	defer db.mu.Unlock()
	if b, ok := db.prefs[d]; ok {
		return b
	}
	return preference.DefaultBundle()
}

func (db *Database) SetPreferredProfiles(d profile.Device, b preference.Bundle) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.prefs[d] = b
}

// SetConnectionPolicy scripts the persisted policy of family f for d.
func (db *Database) SetConnectionPolicy(d profile.Device, f profile.Family, pol profile.Policy) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.policies[policyKey{d, f}] = pol
}

// NoteConnected moves d to the front of the recency order.
func (db *Database) NoteConnected(d profile.Device) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := db.recency[:0]
	for _, dev := range db.recency {
		if dev != d {
			out = append(out, dev)
		}
	}
	db.recency = append([]profile.Device{d}, out...)
}

// AudioRouter simulates the audio framework's mode source.
type AudioRouter struct {
	mu   sync.Mutex
	mode profile.AudioMode
}

// NewAudioRouter creates a router in normal mode.
func NewAudioRouter() *AudioRouter { return &AudioRouter{} }

func (r *AudioRouter) Mode() profile.AudioMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode scripts the audio mode.
func (r *AudioRouter) SetMode(m profile.AudioMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
}

// HostInfo simulates host-level adapter knowledge.
type HostInfo struct {
	mu         sync.Mutex
	dualMode   bool
	allClassic map[profile.Device]bool
	watches    map[profile.Device]bool
}

// NewHostInfo creates a host with dual mode disabled.
func NewHostInfo() *HostInfo {
	return &HostInfo{
		allClassic: make(map[profile.Device]bool),
		watches:    make(map[profile.Device]bool),
	}
}

func (h *HostInfo) DualModeAudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dualMode
}

func (h *HostInfo) AllClassicProfilesActive(d profile.Device) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allClassic[d]
}

func (h *HostInfo) IsWatch(d profile.Device) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watches[d]
}

// SetDualMode scripts the dual-mode audio flag.
func (h *HostInfo) SetDualMode(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dualMode = enabled
}

// SetAllClassicProfilesActive scripts the dual-mode eligibility of d.
func (h *HostInfo) SetAllClassicProfilesActive(d profile.Device, active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allClassic[d] = active
}

// SetWatch scripts whether d is a watch-category device.
func (h *HostInfo) SetWatch(d profile.Device, watch bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watches[d] = watch
}

// RouteSwitcher simulates the audio-routing subsystem's preference endpoint.
type RouteSwitcher struct {
	mu       sync.Mutex
	reject   bool
	requests []RouteRequest
}

// RouteRequest is one recorded route-switch request.
type RouteRequest struct {
	Group  profile.GroupID
	Role   preference.Role
	Family profile.Family
}

// NewRouteSwitcher creates a switcher that accepts every request.
func NewRouteSwitcher() *RouteSwitcher { return &RouteSwitcher{} }

func (s *RouteSwitcher) RequestRouteSwitch(g profile.GroupID, role preference.Role, fam profile.Family) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.requests = append(s.requests, RouteRequest{Group: g, Role: role, Family: fam})
	return true
}

// Reject makes subsequent requests fail.
func (s *RouteSwitcher) Reject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// Requests returns every recorded route-switch request.
func (s *RouteSwitcher) Requests() []RouteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RouteRequest(nil), s.requests...)
}

func containsDevice(devs []profile.Device, d profile.Device) bool {
	for _, dev := range devs {
		if dev == d {
			return true
		}
	}
	return false
}
