// Package registry tracks, per audio family, the set of currently connected
// peer devices. Insertion order is connection order and is preserved; it is
// the last-resort tiebreak when the external recency query has no opinion.
//
// The registry is not safe for concurrent use: it is owned by the arbiter's
// worker goroutine, which is the single serialization point for all engine
// state.
package registry

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/btroute/internal/profile"
)

// Registry holds one ordered connected-set per audio family.
type Registry struct {
	logger *logrus.Logger
	sets   map[profile.Family]*orderedmap.OrderedMap[profile.Device, struct{}]
}

// New creates an empty registry covering every arbitrated family.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		logger: logger,
		sets:   make(map[profile.Family]*orderedmap.OrderedMap[profile.Device, struct{}]),
	}
	for _, f := range profile.Families() {
		r.sets[f] = orderedmap.New[profile.Device, struct{}]()
	}
	return r
}

// Add records a connection of d for family f. Connecting an already-connected
// device is a no-op anomaly: logged, order unchanged, returns false.
func (r *Registry) Add(f profile.Family, d profile.Device) bool {
	set := r.sets[f]
	if _, present := set.Get(d); present {
		r.logger.WithFields(logrus.Fields{
			"family": f,
			"device": d,
		}).Debug("Device is already connected")
		return false
	}
	set.Set(d, struct{}{})
	return true
}

// Remove drops d from family f's connected set. Removing a device that was
// never recorded connected is logged as a defect signal and returns false.
func (r *Registry) Remove(f profile.Family, d profile.Device) bool {
	set := r.sets[f]
	if _, present := set.Get(d); !present {
		r.logger.WithFields(logrus.Fields{
			"family": f,
			"device": d,
		}).Warn("Disconnect for a device that was never connected")
		return false
	}
	set.Delete(d)
	return true
}

// Contains reports whether d is currently connected for family f.
func (r *Registry) Contains(f profile.Family, d profile.Device) bool {
	_, present := r.sets[f].Get(d)
	return present
}

// Devices returns family f's connected devices in connection order.
func (r *Registry) Devices(f profile.Family) []profile.Device {
	set := r.sets[f]
	devices := make([]profile.Device, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		devices = append(devices, pair.Key)
	}
	return devices
}

// Len returns the number of connected devices for family f.
func (r *Registry) Len(f profile.Family) int {
	return r.sets[f].Len()
}

// Reset clears every family's connected set (adapter power cycle).
func (r *Registry) Reset() {
	for _, f := range profile.Families() {
		r.sets[f] = orderedmap.New[profile.Device, struct{}]()
	}
}
