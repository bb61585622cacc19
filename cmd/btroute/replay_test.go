package main

import (
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/suite"

	"github.com/srg/btroute/internal/testutils"
)

type ReplayTestSuite struct {
	CommandTestSuite
}

func (s *ReplayTestSuite) SetupTest() {
	// Table output must be byte-stable regardless of the environment.
	color.NoColor = true
}

func (s *ReplayTestSuite) replay(args ...string) string {
	var execErr error
	out := s.CaptureStdout(func() {
		_, execErr = s.ExecuteCommand(rootCmd, append([]string{"replay"}, args...)...)
	})
	s.Require().NoError(execErr)
	return out
}

func (s *ReplayTestSuite) TestHearingAidPreemptsHeadset() {
	out := s.replay("testdata/headset_then_hearing_aid.yaml", "--sync-window", "40ms")

	expected := `
Classic headset activates jointly, then a hearing aid preempts it

FAMILY          ACTIVE             CONNECTED
a2dp            -                  AA:11:22:33:44:55
hfp             -                  AA:11:22:33:44:55
hearing_aid     HA:00:00:00:00:01  HA:00:00:00:00:01
le_audio        -                  -
le_hearing_aid  -                  -

Decisions:
  [activated] a2dp AA:11:22:33:44:55
  [cleared] le_audio (fallback pending)
  [activated] a2dp AA:11:22:33:44:55
  [activated] hfp AA:11:22:33:44:55
  [cleared] le_audio (fallback pending)
  [activated] hearing_aid HA:00:00:00:00:01
  [cleared] a2dp (fallback pending)
  [cleared] hfp (fallback pending)
  [cleared] le_audio (fallback pending)
`
	testutils.NewTextAsserter(s.T()).Assert(out, expected)
}

func (s *ReplayTestSuite) TestJSONReport() {
	out := s.replay("testdata/headset_then_hearing_aid.yaml", "--sync-window", "40ms", "--format", "json")

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"assignments": {
			"a2dp": [],
			"hfp": [],
			"hearing_aid": ["HA:00:00:00:00:01"],
			"le_audio": [],
			"le_hearing_aid": []
		},
		"events": [
			{"kind": "activated", "family": "a2dp", "device": "AA:11:22:33:44:55"},
			{"kind": "cleared", "family": "le_audio", "has_fallback": true},
			{"kind": "activated", "family": "a2dp", "device": "AA:11:22:33:44:55"},
			{"kind": "activated", "family": "hfp", "device": "AA:11:22:33:44:55"},
			{"kind": "cleared", "family": "le_audio", "has_fallback": true},
			{"kind": "activated", "family": "hearing_aid", "device": "HA:00:00:00:00:01"},
			{"kind": "cleared", "family": "a2dp", "has_fallback": true},
			{"kind": "cleared", "family": "hfp", "has_fallback": true},
			{"kind": "cleared", "family": "le_audio", "has_fallback": true}
		]
	}`)
}

func (s *ReplayTestSuite) TestRejectsInvalidFormat() {
	_, err := s.ExecuteCommand(rootCmd, "replay", "testdata/headset_then_hearing_aid.yaml", "--format", "xml")
	s.ErrorContains(err, "invalid format")
}

func (s *ReplayTestSuite) TestMissingScenarioFile() {
	_, err := s.ExecuteCommand(rootCmd, "replay", "testdata/does_not_exist.yaml", "--format", "table")
	s.Error(err)
	s.Contains(strings.ToLower(formatUserError(err)), "scenario file path")
}

func TestReplayTestSuite(t *testing.T) {
	suite.Run(t, new(ReplayTestSuite))
}
