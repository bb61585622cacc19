package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/internal/sim"
)

// Scenario is a scripted sequence of stack events replayed against the
// arbitration engine with simulated profile subsystems.
type Scenario struct {
	Description   string           `yaml:"description"`
	DualMode      bool             `yaml:"dual_mode"`
	InbandRinging bool             `yaml:"inband_ringing"`
	Devices       []ScenarioDevice `yaml:"devices"`
	Steps         []ScenarioStep   `yaml:"steps"`
}

// ScenarioDevice declares a device's static capabilities before any step runs.
type ScenarioDevice struct {
	ID       string `yaml:"id"`
	HiSyncID int64  `yaml:"hi_sync_id"` // 0 = not a hearing aid
	Group    *int   `yaml:"group"`      // nil = no LE audio group
	Watch    bool   `yaml:"watch"`
}

// Duration parses YAML scalars like "250ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ScenarioStep holds exactly one action, optionally preceded by a pause.
type ScenarioStep struct {
	Wait Duration `yaml:"wait"`

	Connect    *StepTarget `yaml:"connect"`
	Disconnect *StepTarget `yaml:"disconnect"`
	Active     *StepTarget `yaml:"active"` // empty device = observed clear
	Wired      *bool       `yaml:"wired"`
	Adapter    string      `yaml:"adapter"` // "on" or "off"
	Mode       string      `yaml:"mode"`    // normal, ringtone, in_call
	Broadcast  *bool       `yaml:"broadcast"`
}

// StepTarget names the device and profile family an action applies to.
type StepTarget struct {
	Device string `yaml:"device"`
	Family string `yaml:"family"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	for i, step := range sc.Steps {
		actions := 0
		if step.Connect != nil {
			actions++
		}
		if step.Disconnect != nil {
			actions++
		}
		if step.Active != nil {
			actions++
		}
		if step.Wired != nil {
			actions++
		}
		if step.Adapter != "" {
			actions++
		}
		if step.Mode != "" {
			actions++
		}
		if step.Broadcast != nil {
			actions++
		}
		if actions != 1 && !(actions == 0 && step.Wait > 0) {
			return fmt.Errorf("step %d must hold exactly one action (or a bare wait)", i+1)
		}
		for _, t := range []*StepTarget{step.Connect, step.Disconnect} {
			if t == nil {
				continue
			}
			if t.Device == "" {
				return fmt.Errorf("step %d: device is required", i+1)
			}
		}
		// Active may name an empty device: that is an observed clear.
		for _, t := range []*StepTarget{step.Connect, step.Disconnect, step.Active} {
			if t == nil {
				continue
			}
			if _, err := parseFamily(t.Family); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		switch step.Adapter {
		case "", "on", "off":
		default:
			return fmt.Errorf("step %d: adapter must be on or off", i+1)
		}
		if step.Mode != "" {
			if _, err := parseMode(step.Mode); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}
	return nil
}

// Prime scripts the declared device capabilities into the harness.
func (sc *Scenario) Prime(h *sim.Harness) {
	h.Host.SetDualMode(sc.DualMode)
	h.Hfp.SetInbandRinging(sc.InbandRinging)
	for _, dev := range sc.Devices {
		d := profile.Device(dev.ID)
		if dev.HiSyncID != 0 {
			h.HearingAid.AddDevice(d, profile.HiSyncID(dev.HiSyncID))
		}
		if dev.Group != nil {
			h.LeAudio.AddGroupDevice(d, profile.GroupID(*dev.Group))
		}
		if dev.Watch {
			h.Host.SetWatch(d, true)
		}
	}
}

func parseFamily(s string) (profile.Family, error) {
	switch s {
	case "a2dp":
		return profile.FamilyA2dp, nil
	case "hfp":
		return profile.FamilyHfp, nil
	case "hearing_aid":
		return profile.FamilyHearingAid, nil
	case "le_audio":
		return profile.FamilyLeAudio, nil
	case "le_hearing_aid":
		return profile.FamilyLeHearingAid, nil
	default:
		return 0, fmt.Errorf("unknown profile family %q", s)
	}
}

func parseMode(s string) (profile.AudioMode, error) {
	switch s {
	case "normal":
		return profile.ModeNormal, nil
	case "ringtone":
		return profile.ModeRingtone, nil
	case "in_call":
		return profile.ModeInCall, nil
	default:
		return 0, fmt.Errorf("unknown audio mode %q", s)
	}
}
