package preference_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/internal/sim"
	"github.com/srg/btroute/internal/testutils"
	"github.com/srg/btroute/preference"
)

const (
	budsDevice = profile.Device("LE:00:00:00:00:11")
	budsGroup  = profile.GroupID(5)
)

type routeKey struct {
	group profile.GroupID
	role  preference.Role
}

type NegotiatorTestSuite struct {
	suite.Suite

	th     *testutils.TestHelper
	db     *sim.Database
	le     *sim.LeAudioProfile
	sw     *sim.RouteSwitcher
	routes map[routeKey]profile.Family
	n      *preference.Negotiator
}

func (s *NegotiatorTestSuite) SetupTest() {
	s.th = testutils.NewTestHelper(s.T())
	s.db = sim.NewDatabase()
	s.le = sim.NewLeAudioProfile(s.th.Logger)
	s.sw = sim.NewRouteSwitcher()
	s.routes = make(map[routeKey]profile.Family)

	s.le.AddGroupDevice(budsDevice, budsGroup)

	cfg := preference.DefaultConfig()
	cfg.Deadline = 80 * time.Millisecond
	lookup := preference.RoutesFunc(func(g profile.GroupID, role preference.Role) (profile.Family, bool) {
		fam, ok := s.routes[routeKey{g, role}]
		return fam, ok
	})
	s.n = preference.NewNegotiator(cfg, s.db, s.le, lookup, s.sw, s.th.Logger)
	s.Require().NoError(s.n.Start(context.Background()))
}

func (s *NegotiatorTestSuite) TearDownTest() {
	s.n.Stop()
}

func leBundle() preference.Bundle {
	return preference.Bundle{OutputOnly: profile.FamilyLeAudio, Duplex: profile.FamilyLeAudio}
}

func (s *NegotiatorTestSuite) TestSucceedsWhenAllConfirmationsArrive() {
	ch, err := s.n.SetPreferredProfiles(budsDevice, leBundle())
	s.Require().NoError(err)

	requests := s.sw.Requests()
	s.Require().Len(requests, 2, "both roles changed family")

	s.Require().NoError(s.n.NotifyActiveDeviceChangeApplied(budsDevice))
	select {
	case <-ch:
		s.Fail("result must wait for the second confirmation")
	case <-time.After(10 * time.Millisecond):
	}

	s.Require().NoError(s.n.NotifyActiveDeviceChangeApplied(budsDevice))
	select {
	case err := <-ch:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("confirmation did not complete the request")
	}

	s.Equal(leBundle(), s.n.PreferredProfiles(budsDevice))
}

func (s *NegotiatorTestSuite) TestTimesOutWithoutConfirmations() {
	ch, err := s.n.SetPreferredProfiles(budsDevice, leBundle())
	s.Require().NoError(err)

	select {
	case err := <-ch:
		s.True(profile.IsRequestReason(err, profile.ReasonTimeout), "got: %v", err)
	case <-time.After(time.Second):
		s.Fail("deadline never fired")
	}
}

func (s *NegotiatorTestSuite) TestSecondRequestForSameGroupIsRejected() {
	_, err := s.n.SetPreferredProfiles(budsDevice, leBundle())
	s.Require().NoError(err)

	_, err = s.n.SetPreferredProfiles(budsDevice, preference.DefaultBundle())
	s.True(profile.IsRequestReason(err, profile.ReasonInProgress), "got: %v", err)
}

func (s *NegotiatorTestSuite) TestNoopWhenPreferredFamilyAlreadyRoutes() {
	s.routes[routeKey{budsGroup, preference.RoleOutputOnly}] = profile.FamilyLeAudio
	s.routes[routeKey{budsGroup, preference.RoleDuplex}] = profile.FamilyLeAudio

	ch, err := s.n.SetPreferredProfiles(budsDevice, leBundle())
	s.Require().NoError(err)

	select {
	case err := <-ch:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("no-op change must resolve immediately")
	}
	s.Empty(s.sw.Requests())
}

func (s *NegotiatorTestSuite) TestOnlyChangedRolesAreRequested() {
	b := preference.DefaultBundle()
	b.Duplex = profile.FamilyLeAudio

	_, err := s.n.SetPreferredProfiles(budsDevice, b)
	s.Require().NoError(err)

	requests := s.sw.Requests()
	s.Require().Len(requests, 1)
	s.Equal(preference.RoleDuplex, requests[0].Role)
	s.Equal(profile.FamilyLeAudio, requests[0].Family)
	s.Equal(budsGroup, requests[0].Group)
}

func (s *NegotiatorTestSuite) TestUngroupedDeviceIsRejected() {
	_, err := s.n.SetPreferredProfiles("FF:00:00:00:00:99", leBundle())
	s.True(profile.IsRequestReason(err, profile.ReasonRejected), "got: %v", err)
}

func (s *NegotiatorTestSuite) TestInvalidBundleIsRejected() {
	bad := preference.Bundle{OutputOnly: profile.FamilyHfp, Duplex: profile.FamilyHfp}
	_, err := s.n.SetPreferredProfiles(budsDevice, bad)
	s.True(profile.IsRequestReason(err, profile.ReasonRejected), "got: %v", err)
	s.Empty(s.sw.Requests())
}

func (s *NegotiatorTestSuite) TestConfirmationWithoutPendingChangeIsRejected() {
	err := s.n.NotifyActiveDeviceChangeApplied(budsDevice)
	s.True(profile.IsRequestReason(err, profile.ReasonRejected), "got: %v", err)
}

func (s *NegotiatorTestSuite) TestRejectedSwitchRequestsResolveImmediately() {
	s.sw.Reject(true)

	ch, err := s.n.SetPreferredProfiles(budsDevice, leBundle())
	s.Require().NoError(err)

	select {
	case err := <-ch:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("nothing outstanding, result must be immediate")
	}
	// The preference is persisted even when the framework declined to act.
	s.Equal(leBundle(), s.n.PreferredProfiles(budsDevice))
}

func (s *NegotiatorTestSuite) TestStoppedNegotiatorRefusesRequests() {
	s.n.Stop()

	_, err := s.n.SetPreferredProfiles(budsDevice, leBundle())
	s.ErrorIs(err, profile.ErrNotStarted)
}

func (s *NegotiatorTestSuite) TestRequestBeforeStartIsRefused() {
	n := preference.NewNegotiator(nil, s.db, s.le, preference.RoutesFunc(
		func(profile.GroupID, preference.Role) (profile.Family, bool) { return 0, false },
	), s.sw, s.th.Logger)

	_, err := n.SetPreferredProfiles(budsDevice, leBundle())
	s.ErrorIs(err, profile.ErrNotStarted)
	s.ErrorIs(n.NotifyActiveDeviceChangeApplied(budsDevice), profile.ErrNotStarted)
}

func (s *NegotiatorTestSuite) TestActivationChangeReappliesStoredPreference() {
	s.db.SetPreferredProfiles(budsDevice, leBundle())
	s.routes[routeKey{budsGroup, preference.RoleOutputOnly}] = profile.FamilyA2dp
	s.routes[routeKey{budsGroup, preference.RoleDuplex}] = profile.FamilyHfp

	s.n.HandleActivationChanged(budsDevice)

	s.Require().Eventually(func() bool {
		return len(s.sw.Requests()) == 2
	}, time.Second, 10*time.Millisecond, "both roles drifted from the stored preference")
	for _, req := range s.sw.Requests() {
		s.Equal(budsGroup, req.Group)
		s.Equal(profile.FamilyLeAudio, req.Family)
	}

	// Confirmations retire the pending change like any negotiated one.
	s.Require().NoError(s.n.NotifyActiveDeviceChangeApplied(budsDevice))
	s.Require().NoError(s.n.NotifyActiveDeviceChangeApplied(budsDevice))
	err := s.n.NotifyActiveDeviceChangeApplied(budsDevice)
	s.True(profile.IsRequestReason(err, profile.ReasonRejected), "got: %v", err)
}

func (s *NegotiatorTestSuite) TestActivationChangeWithMatchingRoutesIsQuiet() {
	s.db.SetPreferredProfiles(budsDevice, leBundle())
	s.routes[routeKey{budsGroup, preference.RoleOutputOnly}] = profile.FamilyLeAudio
	s.routes[routeKey{budsGroup, preference.RoleDuplex}] = profile.FamilyLeAudio

	s.n.HandleActivationChanged(budsDevice)

	// The synchronous confirmation is processed after the queued reapply,
	// so its rejection proves no pending change was created.
	err := s.n.NotifyActiveDeviceChangeApplied(budsDevice)
	s.True(profile.IsRequestReason(err, profile.ReasonRejected), "got: %v", err)
	s.Empty(s.sw.Requests())
}

func TestNegotiatorTestSuite(t *testing.T) {
	suite.Run(t, new(NegotiatorTestSuite))
}
