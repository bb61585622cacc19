package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/btroute/arbiter"
	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/internal/sim"
	"github.com/srg/btroute/preference"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scripted scenario against the arbitration engine",
	Long: `Replay a scripted sequence of connection, disconnection, and
subsystem events against the arbitration engine and print the active
assignments it settles on.

The scenario file declares the participating devices (hearing-aid sync ids,
LE audio groups, watch category) and a list of timed steps. Every activation
decision the engine makes is traced in order.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replaySyncWindow time.Duration
	replaySettle     time.Duration
	replayFormat     string
	replayVerbose    bool
)

func init() {
	replayCmd.Flags().DurationVar(&replaySyncWindow, "sync-window", 500*time.Millisecond, "Classic profile sync window")
	replayCmd.Flags().DurationVar(&replaySettle, "settle", 0, "Time to wait for pending timers after the last step (default sync-window + 100ms)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "table", "Output format (table, json)")
	replayCmd.Flags().BoolVar(&replayVerbose, "verbose", false, "Enable debug logging")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayFormat != "table" && replayFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", replayFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	sc, err := LoadScenario(args[0])
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	h := sim.NewHarness(logger)
	sc.Prime(h)

	// The negotiator reads live routes from the engine, and the engine
	// forwards grouped activation changes back; the closure breaks the
	// construction cycle.
	var m *arbiter.Manager
	routes := preference.RoutesFunc(func(g profile.GroupID, role preference.Role) (profile.Family, bool) {
		return m.ActiveRouteFamily(g, role == preference.RoleDuplex)
	})
	neg := preference.NewNegotiator(nil, h.DB, h.LeAudio, routes, h.Switcher, logger)

	co := h.Collaborators()
	co.Preference = neg

	cfg := arbiter.DefaultConfig()
	cfg.SyncWindow = replaySyncWindow
	m = arbiter.New(cfg, co, logger)
	if err := neg.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start preference negotiator: %w", err)
	}
	defer neg.Stop()
	if err := m.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start arbitration engine: %w", err)
	}
	defer m.Stop()

	trace := newEventTrace()
	go trace.collect(m.Events())

	adapter := arbiter.AdapterOn
	for i, step := range sc.Steps {
		if err := applyStep(m, h, step, &adapter); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	settle := replaySettle
	if settle == 0 {
		settle = replaySyncWindow + 100*time.Millisecond
	}
	time.Sleep(settle)
	m.Flush()

	snap := takeSnapshot(m)
	// Stopping closes the event stream, so the trace is complete before
	// anything is printed.
	m.Stop()
	<-trace.done

	if replayFormat == "json" {
		return printReplayJSON(snap, trace)
	}
	return printReplayTable(sc, snap, trace)
}

// replaySnapshot is the engine's final per-family state.
type replaySnapshot struct {
	active    map[profile.Family][]profile.Device
	connected map[profile.Family][]profile.Device
}

func takeSnapshot(m *arbiter.Manager) *replaySnapshot {
	snap := &replaySnapshot{
		active:    make(map[profile.Family][]profile.Device),
		connected: make(map[profile.Family][]profile.Device),
	}
	for _, fam := range profile.Families() {
		snap.active[fam] = m.ActiveDevices(fam)
		snap.connected[fam] = m.ConnectedDevices(fam)
	}
	return snap
}

func applyStep(m *arbiter.Manager, h *sim.Harness, step ScenarioStep, adapter *arbiter.AdapterState) error {
	if step.Wait > 0 {
		time.Sleep(time.Duration(step.Wait))
	}

	switch {
	case step.Connect != nil:
		fam, err := parseFamily(step.Connect.Family)
		if err != nil {
			return err
		}
		d := profile.Device(step.Connect.Device)
		h.DB.NoteConnected(d)
		h.DB.SetConnectionPolicy(d, fam, profile.PolicyAllowed)
		m.ProfileConnectionStateChanged(fam, d, profile.StateConnecting, profile.StateConnected)

	case step.Disconnect != nil:
		fam, err := parseFamily(step.Disconnect.Family)
		if err != nil {
			return err
		}
		d := profile.Device(step.Disconnect.Device)
		if fam == profile.FamilyHearingAid {
			// The subsystem's connected view must not report the peer anymore.
			h.HearingAid.RemoveDevice(d)
		}
		m.ProfileConnectionStateChanged(fam, d, profile.StateConnected, profile.StateDisconnected)

	case step.Active != nil:
		fam, err := parseFamily(step.Active.Family)
		if err != nil {
			return err
		}
		m.ProfileActiveDeviceChanged(fam, profile.Device(step.Active.Device))

	case step.Wired != nil:
		m.WiredAccessoryChanged(*step.Wired)

	case step.Adapter != "":
		next := arbiter.AdapterOff
		if step.Adapter == "on" {
			next = arbiter.AdapterOn
		}
		m.AdapterStateChanged(*adapter, next)
		*adapter = next

	case step.Mode != "":
		mode, err := parseMode(step.Mode)
		if err != nil {
			return err
		}
		h.Audio.SetMode(mode)

	case step.Broadcast != nil:
		h.LeAudio.SetBroadcasting(*step.Broadcast)
	}

	// Let the worker drain before the next step so decisions happen in
	// scenario order.
	m.Flush()
	return nil
}

// eventTrace accumulates decision events from the engine's ring channel.
type eventTrace struct {
	mu     sync.Mutex
	events []arbiter.Event
	done   chan struct{}
}

func newEventTrace() *eventTrace { return &eventTrace{done: make(chan struct{})} }

// collect drains ch until it is closed; done is closed once every event has
// been recorded.
func (t *eventTrace) collect(ch <-chan arbiter.Event) {
	defer close(t.done)
	for e := range ch {
		t.mu.Lock()
		t.events = append(t.events, e)
		t.mu.Unlock()
	}
}

func (t *eventTrace) snapshot() []arbiter.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]arbiter.Event(nil), t.events...)
}

func eventKindString(k arbiter.EventKind) string {
	switch k {
	case arbiter.EventActivated:
		return "activated"
	case arbiter.EventCleared:
		return "cleared"
	case arbiter.EventSuppressed:
		return "suppressed"
	case arbiter.EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

func printReplayTable(sc *Scenario, snap *replaySnapshot, trace *eventTrace) error {
	if sc.Description != "" {
		fmt.Println(sc.Description)
		fmt.Println()
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tACTIVE\tCONNECTED")
	for _, fam := range profile.Families() {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			fam,
			green.Sprint(joinDevices(snap.active[fam])),
			joinDevices(snap.connected[fam]))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	events := trace.snapshot()
	if len(events) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println("Decisions:")
	for _, e := range events {
		line := fmt.Sprintf("  [%s] %s", eventKindString(e.Kind), e.Family)
		if !e.Device.IsNone() {
			line += " " + string(e.Device)
		}
		if e.Kind == arbiter.EventCleared && e.HasFallback {
			line += " (fallback pending)"
		}
		if e.Kind == arbiter.EventSuppressed {
			fmt.Println(yellow.Sprint(line))
			continue
		}
		fmt.Println(line)
	}
	return nil
}

type replayReport struct {
	Assignments map[string][]string `json:"assignments"`
	Events      []replayEvent       `json:"events"`
}

type replayEvent struct {
	Kind        string `json:"kind"`
	Family      string `json:"family"`
	Device      string `json:"device,omitempty"`
	HasFallback bool   `json:"has_fallback,omitempty"`
}

func printReplayJSON(snap *replaySnapshot, trace *eventTrace) error {
	report := replayReport{Assignments: make(map[string][]string)}
	for _, fam := range profile.Families() {
		devices := make([]string, 0)
		for _, d := range snap.active[fam] {
			devices = append(devices, string(d))
		}
		report.Assignments[fam.String()] = devices
	}
	for _, e := range trace.snapshot() {
		report.Events = append(report.Events, replayEvent{
			Kind:        eventKindString(e.Kind),
			Family:      e.Family.String(),
			Device:      string(e.Device),
			HasFallback: e.HasFallback,
		})
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func joinDevices(devices []profile.Device) string {
	if len(devices) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(devices))
	for _, d := range devices {
		parts = append(parts, string(d))
	}
	return strings.Join(parts, ", ")
}
