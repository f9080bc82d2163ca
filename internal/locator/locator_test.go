package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/glmlink/internal/device"
	"github.com/srg/glmlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type LocatorTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (suite *LocatorTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
}

func (suite *LocatorTestSuite) newLocator(scanner device.Scanner, timeout time.Duration) *Locator {
	opts := DefaultOptions()
	opts.Timeout = timeout
	return New(scanner, opts, suite.helper.Logger)
}

func adv(name, address string) device.Advertisement {
	return testutils.NewAdvertisementBuilder().WithName(name).WithAddress(address).Build()
}

func (suite *LocatorTestSuite) TestLocate_Selection() {
	// GOAL: Verify the name hint wins over the address prefix regardless of discovery order
	//
	// TEST SCENARIO: scripted advertisements → Locate → expected descriptor

	tests := []struct {
		name     string
		ads      []device.Advertisement
		expected device.Descriptor
	}{
		{
			name: "name match found after prefix match",
			ads: []device.Advertisement{
				adv("", "00:13:43:AA:BB:CC"),
				adv("Bosch GLM50C", "11:22:33:44:55:66"),
			},
			expected: device.Descriptor{Name: "Bosch GLM50C", Address: "11:22:33:44:55:66"},
		},
		{
			name: "name match is case-insensitive",
			ads: []device.Advertisement{
				adv("Phone", "AA:AA:AA:AA:AA:AA"),
				adv("glm50c-1234", "BB:BB:BB:BB:BB:BB"),
			},
			expected: device.Descriptor{Name: "glm50c-1234", Address: "BB:BB:BB:BB:BB:BB"},
		},
		{
			name: "address prefix fallback when names are hidden",
			ads: []device.Advertisement{
				adv("", "AA:AA:AA:AA:AA:AA"),
				adv("", "00:13:43:01:02:03"),
			},
			expected: device.Descriptor{Name: "", Address: "00:13:43:01:02:03"},
		},
		{
			name: "address prefix compare ignores case",
			ads: []device.Advertisement{
				adv("Speaker", "00:13:43:ab:cd:ef"),
			},
			expected: device.Descriptor{Name: "Speaker", Address: "00:13:43:ab:cd:ef"},
		},
		{
			name: "first name match in discovery order wins",
			ads: []device.Advertisement{
				adv("GLM A", "01:01:01:01:01:01"),
				adv("GLM B", "02:02:02:02:02:02"),
			},
			expected: device.Descriptor{Name: "GLM A", Address: "01:01:01:01:01:01"},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			loc := suite.newLocator(&testutils.FakeScanner{Advertisements: tt.ads}, 50*time.Millisecond)

			got, err := loc.Locate(context.Background())
			suite.Require().NoError(err)
			suite.Equal(tt.expected, got, "located device MUST match")
		})
	}
}

func (suite *LocatorTestSuite) TestLocate_NameMatchEndsScanEarly() {
	scanner := &testutils.FakeScanner{Advertisements: []device.Advertisement{adv("Bosch GLM", "11:11:11:11:11:11")}}
	loc := suite.newLocator(scanner, 10*time.Second)

	start := time.Now()
	got, err := loc.Locate(context.Background())
	suite.Require().NoError(err)
	suite.Equal("11:11:11:11:11:11", got.Address)
	suite.Less(time.Since(start), 2*time.Second, "name match MUST end the scan before the window closes")
}

func (suite *LocatorTestSuite) TestLocate_NotFoundListsSeenDevices() {
	scanner := &testutils.FakeScanner{Advertisements: []device.Advertisement{
		adv("Phone", "AA:AA:AA:AA:AA:AA"),
		adv("", "BB:BB:BB:BB:BB:BB"),
		adv("Phone", "AA:AA:AA:AA:AA:AA"), // repeated advertisement
	}}
	loc := suite.newLocator(scanner, 30*time.Millisecond)

	_, err := loc.Locate(context.Background())

	var nf *NotFoundError
	suite.Require().ErrorAs(err, &nf, "miss MUST be reported as NotFoundError")
	suite.Equal([]Seen{
		{Name: "Phone", Address: "AA:AA:AA:AA:AA:AA"},
		{Name: "", Address: "BB:BB:BB:BB:BB:BB"},
	}, nf.Seen, "seen list MUST hold each device once in discovery order")
	suite.Contains(err.Error(), `("Phone", AA:AA:AA:AA:AA:AA)`)
}

func (suite *LocatorTestSuite) TestLocate_LaterNameFillsEarlierBlank() {
	scanner := &testutils.FakeScanner{Advertisements: []device.Advertisement{
		adv("", "CC:CC:CC:CC:CC:CC"),
		adv("Headset", "CC:CC:CC:CC:CC:CC"),
	}}
	loc := suite.newLocator(scanner, 30*time.Millisecond)

	_, err := loc.Locate(context.Background())

	var nf *NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Equal([]Seen{{Name: "Headset", Address: "CC:CC:CC:CC:CC:CC"}}, nf.Seen)
}

func (suite *LocatorTestSuite) TestLocate_EmptyScan() {
	loc := suite.newLocator(&testutils.FakeScanner{}, 20*time.Millisecond)

	_, err := loc.Locate(context.Background())

	var nf *NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Empty(nf.Seen)
	suite.Equal("rangefinder not found: no devices seen", err.Error())
}

func (suite *LocatorTestSuite) TestLocate_ScanError() {
	radioErr := errors.New("adapter unavailable")
	loc := suite.newLocator(&testutils.FakeScanner{Err: radioErr}, time.Second)

	_, err := loc.Locate(context.Background())
	suite.ErrorIs(err, radioErr, "scan failures MUST be propagated")

	var nf *NotFoundError
	suite.False(errors.As(err, &nf), "scan failure MUST NOT look like a miss")
}

func (suite *LocatorTestSuite) TestLocate_ParentCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loc := suite.newLocator(&testutils.FakeScanner{Advertisements: []device.Advertisement{adv("Phone", "AA:AA:AA:AA:AA:AA")}}, time.Second)

	_, err := loc.Locate(ctx)
	suite.ErrorIs(err, context.Canceled, "stop request MUST surface as cancellation")
}

func (suite *LocatorTestSuite) TestMatch_CustomHints() {
	loc := New(nil, Options{NameHints: []string{"ranger"}, AddressPrefix: ""}, suite.helper.Logger)

	_, ok := loc.Match([]Seen{{Name: "GLM50C", Address: "00:13:43:00:00:01"}})
	suite.False(ok, "default hints and prefix MUST NOT apply when overridden")

	d, ok := loc.Match([]Seen{{Name: "Laser RANGER", Address: "00:00:00:00:00:01"}})
	suite.True(ok)
	suite.Equal("00:00:00:00:00:01", d.Address)
}

func (suite *LocatorTestSuite) TestLocate_SkipsNonConnectable() {
	// GOAL: A broadcast-only advertiser is never chosen, even with a matching name
	//
	// TEST SCENARIO: non-connectable "GLM50C" beacon, then connectable prefix device → prefix device wins

	beacon := testutils.NewAdvertisementBuilder().WithName("GLM50C").WithAddress("01:01:01:01:01:01").WithConnectable(false).Build()
	scanner := &testutils.FakeScanner{Advertisements: []device.Advertisement{
		beacon,
		adv("", "00:13:43:01:02:03"),
	}}

	got, err := suite.newLocator(scanner, 50*time.Millisecond).Locate(context.Background())
	suite.Require().NoError(err)
	suite.Equal("00:13:43:01:02:03", got.Address, "non-connectable device MUST NOT be selected")
}

func (suite *LocatorTestSuite) TestLocate_NonConnectableOnlyIsNotFound() {
	beacon := testutils.NewAdvertisementBuilder().WithName("Bosch GLM").WithAddress("00:13:43:09:09:09").WithConnectable(false).Build()
	scanner := &testutils.FakeScanner{Advertisements: []device.Advertisement{beacon}}

	_, err := suite.newLocator(scanner, 50*time.Millisecond).Locate(context.Background())

	var nf *NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Equal([]Seen{{Name: "Bosch GLM", Address: "00:13:43:09:09:09"}}, nf.Seen, "non-connectable device MUST still be listed as seen")
}

func TestLocatorTestSuite(t *testing.T) {
	suite.Run(t, new(LocatorTestSuite))
}
