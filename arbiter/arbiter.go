package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/internal/eventbus"
	"github.com/srg/btroute/internal/groutine"
	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/internal/registry"
)

// AdapterState is the Bluetooth adapter power state reported by the host.
type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
)

func (s AdapterState) String() string {
	switch s {
	case AdapterOff:
		return "off"
	case AdapterTurningOn:
		return "turning_on"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turning_off"
	default:
		return "unknown"
	}
}

// Config tunes the arbitration engine. Zero fields are filled with the
// defaults below.
type Config struct {
	// SyncWindow bounds how long an A2DP or HFP activation waits for the
	// sibling classic profile to connect before activating alone. The same
	// window bounds the classic activation echo suppression.
	SyncWindow time.Duration `default:"5s"`

	// QueueCapacity is the task queue depth of the worker goroutine.
	QueueCapacity int `default:"64"`

	// EventBuffer is the capacity of the decision event stream; observers
	// that fall behind lose the oldest events.
	EventBuffer int `default:"100"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// RouteListener observes activation changes that may affect a coordinated
// set's preferred-route negotiation. Called from the engine worker;
// implementations must queue the work and must not re-enter the engine
// synchronously.
type RouteListener interface {
	HandleActivationChanged(d profile.Device)
}

// Collaborators are the external subsystems the engine drives and consults.
// Any profile collaborator may be nil; operations touching an absent
// collaborator degrade to a logged no-op.
type Collaborators struct {
	A2dp       profile.A2dpProvider
	Hfp        profile.HfpProvider
	HearingAid profile.HearingAidProvider
	LeAudio    profile.LeAudioProvider

	DB    profile.Database
	Audio profile.AudioRouter
	Host  profile.HostInfo

	// Preference, when set, is told about classic and LE activation changes
	// for devices that belong to a coordinated set.
	Preference RouteListener
}

// EventKind classifies a decision event.
type EventKind int

const (
	// EventActivated reports a family's active assignment was set.
	EventActivated EventKind = iota
	// EventCleared reports a family's active assignment was cleared.
	EventCleared
	// EventSuppressed reports an activation was skipped because an LE
	// broadcast is streaming.
	EventSuppressed
	// EventReset reports a full state reset (adapter power cycle).
	EventReset
)

// Event is a decision published to observers after the fact. It is purely
// informational; the authoritative state lives in the snapshot accessors.
type Event struct {
	Kind        EventKind
	Family      profile.Family
	Device      profile.Device
	HasFallback bool
}

type timerKind int

const (
	timerSyncActivation timerKind = iota
	timerClassicToActivate
	timerClassicNotToActivate
)

type timerKey struct {
	kind   timerKind
	device profile.Device
}

// Manager is the active-device arbitration engine.
type Manager struct {
	logger *logrus.Logger
	cfg    *Config
	co     Collaborators

	// profiles maps each family to its control surface; inbound events for
	// families without one are dropped at dispatch.
	profiles map[profile.Family]profile.AudioProfile

	lifecycle sync.Mutex
	running   bool
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}

	// Everything below is owned by the worker goroutine.
	reg *registry.Registry

	a2dpActive         profile.Device
	hfpActive          profile.Device
	hearingAidActive   map[profile.Device]struct{}
	leAudioActive      profile.Device
	leHearingAidActive profile.Device

	pendingSync         profile.Device
	pendingLeHearingAid []profile.Device

	classicToActivate    profile.Device
	classicNotToActivate profile.Device

	timerGen map[timerKey]uint64
	gen      uint64

	// active is the published per-family assignment snapshot; the worker
	// writes, external readers read lock-free.
	active *hashmap.Map[string, []profile.Device]
	events *eventbus.RingChannel[Event]
}

// New creates a Manager. cfg may be nil; zero Config fields are defaulted.
func New(cfg *Config, co Collaborators, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	defaults.SetDefaults(cfg)

	m := &Manager{
		logger:           logger,
		cfg:              cfg,
		co:               co,
		reg:              registry.New(logger),
		hearingAidActive: make(map[profile.Device]struct{}),
		timerGen:         make(map[timerKey]uint64),
		active:           hashmap.New[string, []profile.Device](),
		events:           eventbus.NewRingChannel[Event](cfg.EventBuffer),
	}

	m.profiles = make(map[profile.Family]profile.AudioProfile)
	if co.A2dp != nil {
		m.profiles[profile.FamilyA2dp] = co.A2dp
	}
	if co.Hfp != nil {
		m.profiles[profile.FamilyHfp] = co.Hfp
	}
	if co.HearingAid != nil {
		m.profiles[profile.FamilyHearingAid] = co.HearingAid
	}
	if co.LeAudio != nil {
		m.profiles[profile.FamilyLeAudio] = co.LeAudio
		// LE hearing aids are driven through the LE audio collaborator.
		m.profiles[profile.FamilyLeHearingAid] = co.LeAudio
	}

	for _, f := range profile.Families() {
		m.active.Set(f.String(), nil)
	}
	return m
}

// Start launches the worker goroutine. Safe to call once per Manager.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.running {
		return nil
	}
	m.tasks = make(chan func(), m.cfg.QueueCapacity)
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	groutine.Go(ctx, "btroute-arbiter", m.run)
	m.logger.Debug("Arbitration engine started")
	return nil
}

// Stop terminates the worker and waits for it to drain.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	<-m.done
	m.running = false
	// The worker is gone, nothing can emit anymore.
	m.events.Close()
	m.logger.Debug("Arbitration engine stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case fn := <-m.tasks:
			fn()
		case <-m.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// post marshals fn onto the worker queue. Events arriving while the engine
// is not running are dropped; the trusted callback threads delivering them
// must never be parked on a dead queue.
func (m *Manager) post(fn func()) bool {
	m.lifecycle.Lock()
	if !m.running {
		m.lifecycle.Unlock()
		m.logger.WithError(profile.ErrNotStarted).Debug("Dropping event, engine is not running")
		return false
	}
	tasks, quit := m.tasks, m.quit
	m.lifecycle.Unlock()

	select {
	case tasks <- fn:
		return true
	case <-quit:
		return false
	}
}

// Flush blocks until every task enqueued before the call has been processed.
// It is a synchronization barrier for tests and for callers that want to
// observe a quiesced snapshot.
func (m *Manager) Flush() {
	barrier := make(chan struct{})
	if !m.post(func() { close(barrier) }) {
		return
	}
	select {
	case <-barrier:
	case <-m.quit:
	}
}

// schedule arms a cancellable keyed timer. The callback runs on the worker
// only if the key has not been cancelled or replaced in the meantime.
func (m *Manager) schedule(key timerKey, d time.Duration, fn func()) {
	m.gen++
	gen := m.gen
	m.timerGen[key] = gen
	time.AfterFunc(d, func() {
		m.post(func() {
			if m.timerGen[key] != gen {
				return
			}
			delete(m.timerGen, key)
			fn()
		})
	})
}

// cancel drops a keyed timer; a later fire for it becomes a no-op.
func (m *Manager) cancel(key timerKey) {
	delete(m.timerGen, key)
}

// Events returns the decision event stream. The buffer overwrites oldest
// entries when observers fall behind.
func (m *Manager) Events() <-chan Event {
	return m.events.C()
}

func (m *Manager) emit(e Event) {
	m.events.Send(e)
}

// publish refreshes the lock-free snapshot of family f's active assignment.
func (m *Manager) publish(f profile.Family) {
	var devs []profile.Device
	switch f {
	case profile.FamilyA2dp:
		if !m.a2dpActive.IsNone() {
			devs = []profile.Device{m.a2dpActive}
		}
	case profile.FamilyHfp:
		if !m.hfpActive.IsNone() {
			devs = []profile.Device{m.hfpActive}
		}
	case profile.FamilyHearingAid:
		for d := range m.hearingAidActive {
			devs = append(devs, d)
		}
	case profile.FamilyLeAudio:
		if !m.leAudioActive.IsNone() {
			devs = []profile.Device{m.leAudioActive}
		}
	case profile.FamilyLeHearingAid:
		if !m.leHearingAidActive.IsNone() {
			devs = []profile.Device{m.leHearingAidActive}
		}
	}
	m.active.Set(f.String(), devs)
}

// ActiveDevices returns the devices currently active for family f. Hearing
// aid families may report a whole co-synced set; other families report at
// most one device. Safe for concurrent use.
func (m *Manager) ActiveDevices(f profile.Family) []profile.Device {
	devs, _ := m.active.Get(f.String())
	return devs
}

// ActiveDevice returns family f's single active device, ok=false when the
// assignment is empty.
func (m *Manager) ActiveDevice(f profile.Family) (profile.Device, bool) {
	devs := m.ActiveDevices(f)
	if len(devs) == 0 {
		return profile.NoDevice, false
	}
	return devs[0], true
}

// ConnectedDevices returns a point-in-time view of family f's connected set,
// in connection order. The query runs on the worker to stay race-free.
func (m *Manager) ConnectedDevices(f profile.Family) []profile.Device {
	var devs []profile.Device
	barrier := make(chan struct{})
	if !m.post(func() {
		devs = m.reg.Devices(f)
		close(barrier)
	}) {
		return nil
	}
	select {
	case <-barrier:
	case <-m.quit:
	}
	return devs
}

// ActiveRouteFamily reports which family currently carries audio for the
// given LE coordinated set: duplex=true asks about call audio, false about
// media. Used by the audio-preference negotiator to skip requests whose
// target route is already in place.
func (m *Manager) ActiveRouteFamily(g profile.GroupID, duplex bool) (profile.Family, bool) {
	le := m.co.LeAudio
	if le == nil || g == profile.GroupInvalid {
		return 0, false
	}
	if d, ok := m.ActiveDevice(profile.FamilyLeAudio); ok && le.GroupID(d) == g {
		return profile.FamilyLeAudio, true
	}
	if duplex {
		if d, ok := m.ActiveDevice(profile.FamilyHfp); ok && le.GroupID(d) == g {
			return profile.FamilyHfp, true
		}
	} else {
		if d, ok := m.ActiveDevice(profile.FamilyA2dp); ok && le.GroupID(d) == g {
			return profile.FamilyA2dp, true
		}
	}
	return 0, false
}

func (m *Manager) dualMode() bool {
	return m.co.Host != nil && m.co.Host.DualModeAudioEnabled()
}

func (m *Manager) audioMode() profile.AudioMode {
	if m.co.Audio == nil {
		return profile.ModeNormal
	}
	return m.co.Audio.Mode()
}

func (m *Manager) isBroadcasting() bool {
	return m.co.LeAudio != nil && m.co.LeAudio.IsBroadcastingAudio()
}

func (m *Manager) connectionPolicy(d profile.Device, f profile.Family) profile.Policy {
	if m.co.DB == nil {
		return profile.PolicyUnknown
	}
	return m.co.DB.ConnectionPolicy(d, f)
}
