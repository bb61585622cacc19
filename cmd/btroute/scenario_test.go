package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/internal/sim"
)

type ScenarioTestSuite struct {
	suite.Suite
}

func (s *ScenarioTestSuite) writeScenario(content string) string {
	path := filepath.Join(s.T().TempDir(), "scenario.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (s *ScenarioTestSuite) TestLoadsFixture() {
	sc, err := LoadScenario("testdata/headset_then_hearing_aid.yaml")

	s.Require().NoError(err)
	s.Len(sc.Devices, 2)
	s.Len(sc.Steps, 3)
	s.Equal(int64(17), sc.Devices[1].HiSyncID)
}

func (s *ScenarioTestSuite) TestRejectsStepWithTwoActions() {
	path := s.writeScenario(`
steps:
  - connect: { device: "AA:11", family: a2dp }
    wired: true
`)
	_, err := LoadScenario(path)
	s.ErrorContains(err, "exactly one action")
}

func (s *ScenarioTestSuite) TestRejectsUnknownFamily() {
	path := s.writeScenario(`
steps:
  - connect: { device: "AA:11", family: avrcp }
`)
	_, err := LoadScenario(path)
	s.ErrorContains(err, "unknown profile family")
}

func (s *ScenarioTestSuite) TestRejectsBadAdapterValue() {
	path := s.writeScenario(`
steps:
  - adapter: sideways
`)
	_, err := LoadScenario(path)
	s.ErrorContains(err, "adapter must be on or off")
}

func (s *ScenarioTestSuite) TestRejectsConnectWithoutDevice() {
	path := s.writeScenario(`
steps:
  - connect: { family: a2dp }
`)
	_, err := LoadScenario(path)
	s.ErrorContains(err, "device is required")
}

func (s *ScenarioTestSuite) TestAllowsBareWaitStep() {
	path := s.writeScenario(`
steps:
  - wait: 50ms
  - wired: true
`)
	sc, err := LoadScenario(path)
	s.Require().NoError(err)
	s.Len(sc.Steps, 2)
}

func (s *ScenarioTestSuite) TestPrimeScriptsHarness() {
	group := 4
	sc := &Scenario{
		DualMode:      true,
		InbandRinging: true,
		Devices: []ScenarioDevice{
			{ID: "HA:01", HiSyncID: 9},
			{ID: "LE:01", Group: &group},
			{ID: "WA:01", Watch: true},
		},
	}
	h := sim.NewHarness(nil)

	sc.Prime(h)

	s.True(h.Host.DualModeAudioEnabled())
	s.True(h.Hfp.InbandRingingEnabled())
	s.Equal(profile.HiSyncID(9), h.HearingAid.HiSyncID("HA:01"))
	s.Equal(profile.GroupID(4), h.LeAudio.GroupID("LE:01"))
	s.True(h.Host.IsWatch("WA:01"))
	s.False(h.Host.IsWatch("LE:01"))
}

func TestScenarioTestSuite(t *testing.T) {
	suite.Run(t, new(ScenarioTestSuite))
}
