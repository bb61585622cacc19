package preference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/btroute/internal/groutine"
	"github.com/srg/btroute/internal/profile"
)

// Config tunes the negotiator. Zero fields are filled with the defaults
// below.
type Config struct {
	// Deadline bounds how long a preference change waits for all of its
	// audio-framework confirmations before the caller is told it timed out.
	Deadline time.Duration `default:"10s"`

	// QueueCapacity is the task queue depth of the worker goroutine.
	QueueCapacity int `default:"32"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// pendingRequest tracks one in-flight preference change for a group.
type pendingRequest struct {
	device      profile.Device
	bundle      Bundle
	outstanding int
	result      chan error
}

// Negotiator runs preference changes for dual-mode device groups. At most
// one change may be in flight per group; a second request is rejected with
// ErrRequestInProgress. All bookkeeping is owned by a single worker
// goroutine, the same serialization discipline the arbiter uses.
type Negotiator struct {
	logger   *logrus.Logger
	cfg      *Config
	store    Store
	groups   Groups
	routes   Routes
	switcher Switcher

	lifecycle sync.Mutex
	running   bool
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}

	// Worker-owned.
	pending  map[profile.GroupID]*pendingRequest
	timerGen map[profile.GroupID]uint64
	gen      uint64
}

// NewNegotiator creates a Negotiator. cfg may be nil; zero Config fields are
// defaulted.
func NewNegotiator(cfg *Config, store Store, groups Groups, routes Routes, switcher Switcher, logger *logrus.Logger) *Negotiator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	defaults.SetDefaults(cfg)

	return &Negotiator{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		groups:   groups,
		routes:   routes,
		switcher: switcher,
		pending:  make(map[profile.GroupID]*pendingRequest),
		timerGen: make(map[profile.GroupID]uint64),
	}
}

// Start launches the worker goroutine.
func (n *Negotiator) Start(ctx context.Context) error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()
	if n.running {
		return nil
	}
	n.tasks = make(chan func(), n.cfg.QueueCapacity)
	n.quit = make(chan struct{})
	n.done = make(chan struct{})
	n.running = true

	groutine.Go(ctx, "btroute-preference", n.run)
	n.logger.Debug("Preference negotiator started")
	return nil
}

// Stop terminates the worker and waits for it.
func (n *Negotiator) Stop() {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()
	if !n.running {
		return
	}
	close(n.quit)
	<-n.done
	n.running = false
}

func (n *Negotiator) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case fn := <-n.tasks:
			fn()
		case <-n.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// post marshals fn onto the worker queue, dropping it when the negotiator
// is not running so callers are never parked on a dead queue.
func (n *Negotiator) post(fn func()) bool {
	n.lifecycle.Lock()
	if !n.running {
		n.lifecycle.Unlock()
		n.logger.WithError(profile.ErrNotStarted).Debug("Dropping request, negotiator is not running")
		return false
	}
	tasks, quit := n.tasks, n.quit
	n.lifecycle.Unlock()

	select {
	case tasks <- fn:
		return true
	case <-quit:
		return false
	}
}

// call runs fn on the worker and waits for it, so callers get a serialized
// synchronous answer without holding any lock themselves.
func (n *Negotiator) call(fn func()) error {
	barrier := make(chan struct{})
	if !n.post(func() {
		fn()
		close(barrier)
	}) {
		return profile.ErrNotStarted
	}
	select {
	case <-barrier:
		return nil
	case <-n.quit:
		return profile.ErrNotStarted
	}
}

func (n *Negotiator) schedule(g profile.GroupID, d time.Duration, fn func()) {
	n.gen++
	gen := n.gen
	n.timerGen[g] = gen
	time.AfterFunc(d, func() {
		n.post(func() {
			if n.timerGen[g] != gen {
				return
			}
			delete(n.timerGen, g)
			fn()
		})
	})
}

func (n *Negotiator) cancelTimer(g profile.GroupID) {
	delete(n.timerGen, g)
}

// PreferredProfiles returns the persisted preference bundle for d.
func (n *Negotiator) PreferredProfiles(d profile.Device) Bundle {
	return n.store.PreferredProfiles(d)
}

// SetPreferredProfiles persists bundle b for d's group and negotiates the
// routing change with the audio framework. Immediate rejections (invalid
// bundle, unknown group, change already in flight) come back as the error
// return; otherwise the channel delivers exactly one value — nil after all
// confirmations arrive, or ErrRequestTimeout when the deadline fires first.
func (n *Negotiator) SetPreferredProfiles(d profile.Device, b Bundle) (<-chan error, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var (
		result <-chan error
		reqErr error
	)
	if err := n.call(func() {
		result, reqErr = n.handleSetPreferred(d, b)
	}); err != nil {
		return nil, err
	}
	return result, reqErr
}

func (n *Negotiator) handleSetPreferred(d profile.Device, b Bundle) (<-chan error, error) {
	g := n.groups.GroupID(d)
	if g == profile.GroupInvalid {
		return nil, fmt.Errorf("%w: device %s is not part of a coordinated set",
			profile.ErrRequestRejected, d)
	}
	if _, busy := n.pending[g]; busy {
		return nil, fmt.Errorf("%w: preference change for group %d",
			profile.ErrRequestInProgress, g)
	}

	prev := n.store.PreferredProfiles(d)
	n.store.SetPreferredProfiles(d, b)

	outstanding := 0
	for _, role := range []Role{RoleOutputOnly, RoleDuplex} {
		want := b.family(role)
		if want == prev.family(role) {
			continue
		}
		if active, ok := n.routes.ActiveFamily(g, role); ok && active == want {
			n.logger.WithFields(logrus.Fields{
				"group":  g,
				"role":   role,
				"family": want,
			}).Debug("Preferred family already routes this role")
			continue
		}
		if n.switcher.RequestRouteSwitch(g, role, want) {
			outstanding++
		} else {
			n.logger.WithFields(logrus.Fields{
				"group":  g,
				"role":   role,
				"family": want,
			}).Warn("Audio framework rejected route switch request")
		}
	}

	result := make(chan error, 1)
	if outstanding == 0 {
		// Nothing to wait for; the preference is already effective.
		result <- nil
		return result, nil
	}

	req := &pendingRequest{device: d, bundle: b, outstanding: outstanding, result: result}
	n.pending[g] = req
	n.logger.WithFields(logrus.Fields{
		"group":       g,
		"device":      d,
		"outstanding": outstanding,
	}).Debug("Waiting for audio framework confirmations")

	n.schedule(g, n.cfg.Deadline, func() {
		delete(n.pending, g)
		n.logger.WithFields(logrus.Fields{
			"group":       g,
			"outstanding": req.outstanding,
		}).Warn("Preference change timed out")
		req.result <- fmt.Errorf("%w: %d confirmations outstanding for group %d",
			profile.ErrRequestTimeout, req.outstanding, g)
	})
	return result, nil
}

// NotifyActiveDeviceChangeApplied records one confirmation from the
// audio-routing subsystem for d's group. When the last expected confirmation
// arrives, the original caller is told the change succeeded.
func (n *Negotiator) NotifyActiveDeviceChangeApplied(d profile.Device) error {
	var notifyErr error
	if err := n.call(func() {
		notifyErr = n.handleChangeApplied(d)
	}); err != nil {
		return err
	}
	return notifyErr
}

func (n *Negotiator) handleChangeApplied(d profile.Device) error {
	g := n.groups.GroupID(d)
	req, ok := n.pending[g]
	if !ok {
		return fmt.Errorf("%w: no outstanding preference change for group %d",
			profile.ErrRequestRejected, g)
	}
	req.outstanding--
	n.logger.WithFields(logrus.Fields{
		"group":       g,
		"device":      d,
		"outstanding": req.outstanding,
	}).Debug("Route change confirmation received")
	if req.outstanding <= 0 {
		n.cancelTimer(g)
		delete(n.pending, g)
		req.result <- nil
	}
	return nil
}

// HandleActivationChanged ingests an arbitration decision that changed the
// active route for d. When d's group holds a persisted preference that no
// longer matches the live routes, the change is renegotiated with the audio
// framework. Fire-and-forget; outcomes are logged, not returned.
func (n *Negotiator) HandleActivationChanged(d profile.Device) {
	n.post(func() { n.reapplyPreference(d) })
}

func (n *Negotiator) reapplyPreference(d profile.Device) {
	g := n.groups.GroupID(d)
	if g == profile.GroupInvalid {
		return
	}
	if _, busy := n.pending[g]; busy {
		return
	}

	b := n.store.PreferredProfiles(d)
	outstanding := 0
	for _, role := range []Role{RoleOutputOnly, RoleDuplex} {
		want := b.family(role)
		active, ok := n.routes.ActiveFamily(g, role)
		if !ok || active == want {
			continue
		}
		if n.switcher.RequestRouteSwitch(g, role, want) {
			outstanding++
		} else {
			n.logger.WithFields(logrus.Fields{
				"group":  g,
				"role":   role,
				"family": want,
			}).Warn("Audio framework rejected route switch request")
		}
	}
	if outstanding == 0 {
		return
	}

	// Buffered so the timeout or last confirmation never blocks on the
	// unread result.
	req := &pendingRequest{device: d, bundle: b, outstanding: outstanding, result: make(chan error, 1)}
	n.pending[g] = req
	n.logger.WithFields(logrus.Fields{
		"group":       g,
		"device":      d,
		"outstanding": outstanding,
	}).Debug("Reapplying persisted preference after route change")

	n.schedule(g, n.cfg.Deadline, func() {
		delete(n.pending, g)
		n.logger.WithField("group", g).Warn("Preference reapply timed out")
		req.result <- fmt.Errorf("%w: %d confirmations outstanding for group %d",
			profile.ErrRequestTimeout, req.outstanding, g)
	})
}
