package license

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestChecker(t *testing.T) {
	Convey("Cloud sync is limited to the top tiers", t, func() {
		for tier, want := range map[string]bool{
			"STANDARD":   false,
			"pro":        false,
			"ENTERPRISE": true,
			" lifetime ": true,
		} {
			c, err := New(tier)
			So(err, ShouldBeNil)
			So(c.IsFeatureEnabled(FeatureCloudSync), ShouldEqual, want)
			So(c.IsFeatureEnabled(FeatureAutoBackup), ShouldBeTrue)
		}
	})

	Convey("Unknown tiers and features", t, func() {
		_, err := New("GOLD")
		So(err, ShouldNotBeNil)

		c, _ := New("LIFETIME")
		So(c.Tier(), ShouldEqual, TierLifetime)
		So(c.IsFeatureEnabled("teleport"), ShouldBeFalse)
	})
}
