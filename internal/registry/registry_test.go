package registry_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/btroute/internal/profile"
	"github.com/srg/btroute/internal/registry"
)

type RegistryTestSuite struct {
	suite.Suite

	reg *registry.Registry
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.reg = registry.New(nil)
}

func (suite *RegistryTestSuite) TestAddAndContains() {
	suite.True(suite.reg.Add(profile.FamilyA2dp, "AA:11"))
	suite.True(suite.reg.Contains(profile.FamilyA2dp, "AA:11"))

	suite.Run("same device in another family is independent", func() {
		suite.False(suite.reg.Contains(profile.FamilyHfp, "AA:11"))
		suite.True(suite.reg.Add(profile.FamilyHfp, "AA:11"))
		suite.True(suite.reg.Contains(profile.FamilyHfp, "AA:11"))
	})

	suite.Run("duplicate add is rejected", func() {
		suite.False(suite.reg.Add(profile.FamilyA2dp, "AA:11"))
		suite.Equal(1, suite.reg.Len(profile.FamilyA2dp))
	})
}

func (suite *RegistryTestSuite) TestRemove() {
	suite.reg.Add(profile.FamilyLeAudio, "LE:01")

	suite.Run("removes a connected device", func() {
		suite.True(suite.reg.Remove(profile.FamilyLeAudio, "LE:01"))
		suite.False(suite.reg.Contains(profile.FamilyLeAudio, "LE:01"))
	})

	suite.Run("remove of an unknown device is flagged", func() {
		suite.False(suite.reg.Remove(profile.FamilyLeAudio, "LE:99"))
	})
}

func (suite *RegistryTestSuite) TestDevicesPreserveConnectionOrder() {
	suite.reg.Add(profile.FamilyHearingAid, "HA:03")
	suite.reg.Add(profile.FamilyHearingAid, "HA:01")
	suite.reg.Add(profile.FamilyHearingAid, "HA:02")

	suite.Equal([]profile.Device{"HA:03", "HA:01", "HA:02"},
		suite.reg.Devices(profile.FamilyHearingAid))

	suite.Run("order survives removal of a middle element", func() {
		suite.reg.Remove(profile.FamilyHearingAid, "HA:01")
		suite.Equal([]profile.Device{"HA:03", "HA:02"},
			suite.reg.Devices(profile.FamilyHearingAid))
	})

	suite.Run("reconnect moves the device to the back", func() {
		suite.reg.Add(profile.FamilyHearingAid, "HA:01")
		suite.Equal([]profile.Device{"HA:03", "HA:02", "HA:01"},
			suite.reg.Devices(profile.FamilyHearingAid))
	})
}

func (suite *RegistryTestSuite) TestReset() {
	for _, f := range profile.Families() {
		suite.reg.Add(f, "AA:11")
	}

	suite.reg.Reset()

	for _, f := range profile.Families() {
		suite.Equal(0, suite.reg.Len(f), f.String())
		suite.Empty(suite.reg.Devices(f))
	}
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
