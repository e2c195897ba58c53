package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/semmidev/markavault/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/sony/gobreaker/v2"
)

func newTestTransport(maxRetries int, providers ...domain.Provider) *Transport {
	return NewTransport(providers, TransportConfig{MaxRetries: maxRetries}, nopLogger, nil)
}

func TestTransportRetry(t *testing.T) {
	Convey("Given a transport with max_retries=3", t, func() {
		ctx := context.Background()
		src := t.TempDir() + "/artifact.marka"
		writeFile(src, []byte("payload"))

		Convey("A provider failing twice then succeeding succeeds", func() {
			flaky := newFakeProvider("flaky")
			flaky.failures = 2
			tr := newTestTransport(3, flaky)

			results := tr.Upload(ctx, src, "sync/artifact.marka")
			So(len(results), ShouldEqual, 1)
			So(results[0].Err, ShouldBeNil)
			So(flaky.callCount("upload"), ShouldEqual, 3)
			So(flaky.keys(), ShouldResemble, []string{"sync/artifact.marka"})
		})

		Convey("A provider that always fails returns the last error after exactly three attempts", func() {
			dead := newFakeProvider("dead")
			dead.failures = -1
			tr := newTestTransport(3, dead)

			err := tr.Delete(ctx, "dead", "sync/artifact.marka")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "attempt 3 failed")
			So(dead.callCount("delete"), ShouldEqual, 3)
		})

		Convey("A hung call times out per attempt", func() {
			slow := newFakeProvider("slow")
			slow.hold = time.Second
			tr := NewTransport([]domain.Provider{slow}, TransportConfig{MaxRetries: 2, CallTimeout: 20 * time.Millisecond}, nopLogger, nil)

			results := tr.Upload(ctx, src, "artifact.marka")
			So(errors.Is(results[0].Err, context.DeadlineExceeded), ShouldBeTrue)
			So(slow.callCount("upload"), ShouldEqual, 2)
		})

		Convey("Unknown providers are rejected", func() {
			tr := newTestTransport(3, newFakeProvider("nas"))
			So(tr.Download(ctx, "s3", "k", t.TempDir()+"/x"), ShouldNotBeNil)
		})
	})
}

func TestTransportBreaker(t *testing.T) {
	Convey("Given a provider that keeps failing", t, func() {
		ctx := context.Background()
		dead := newFakeProvider("dead")
		dead.failures = -1
		tr := newTestTransport(5, dead)

		So(tr.Delete(ctx, "dead", "a.marka"), ShouldNotBeNil)
		So(dead.callCount("delete"), ShouldEqual, 5)

		Convey("The breaker opens and later calls fail without reaching it", func() {
			err := tr.Delete(ctx, "dead", "a.marka")
			So(errors.Is(err, gobreaker.ErrOpenState), ShouldBeTrue)
			So(dead.callCount("delete"), ShouldEqual, 5)
		})
	})
}

func TestTransportUpload(t *testing.T) {
	Convey("Given two providers where one always fails", t, func() {
		ctx := context.Background()
		src := t.TempDir() + "/artifact.marka"
		writeFile(src, []byte("payload"))

		good := newFakeProvider("nas")
		bad := newFakeProvider("s3")
		bad.failures = -1
		tr := newTestTransport(2, good, bad)

		results := tr.Upload(ctx, src, "sync/artifact.marka")

		Convey("Both results are reported in configuration order", func() {
			So(len(results), ShouldEqual, 2)
			So(results[0].Provider, ShouldEqual, "nas")
			So(results[0].Err, ShouldBeNil)
			So(results[1].Provider, ShouldEqual, "s3")
			So(results[1].Err, ShouldNotBeNil)
		})

		Convey("The failure does not stop the other upload", func() {
			So(good.keys(), ShouldResemble, []string{"sync/artifact.marka"})
			So(bad.callCount("upload"), ShouldEqual, 2)
		})
	})
}

func TestTransportListLatest(t *testing.T) {
	Convey("Given objects spread across providers", t, func() {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		a := newFakeProvider("a")
		b := newFakeProvider("b")
		tr := newTestTransport(1, a, b)

		Convey("The newest modification time wins", func() {
			a.put("sync/marka-backup-20260301-120000.marka", []byte("x"), base)
			b.put("sync/marka-backup-20260301-110000.marka", []byte("x"), base.Add(time.Minute))

			latest, err := tr.ListLatest(ctx, "sync/")
			So(err, ShouldBeNil)
			So(latest.Provider, ShouldEqual, "b")
			So(latest.Key, ShouldEqual, "sync/marka-backup-20260301-110000.marka")
		})

		Convey("Equal times fall back to the greatest key", func() {
			a.put("sync/marka-backup-20260301-120000.marka", []byte("x"), base)
			b.put("sync/marka-backup-20260301-120000-1.marka", []byte("x"), base)
			b.put("sync/marka-backup-20260301-115959.marka", []byte("x"), base)

			latest, err := tr.ListLatest(ctx, "sync/")
			So(err, ShouldBeNil)
			So(latest.Key, ShouldEqual, "sync/marka-backup-20260301-120000.marka")
			So(latest.Provider, ShouldEqual, "a")
		})

		Convey("An identical key keeps the first configured provider", func() {
			a.put("sync/marka-backup-20260301-120000.marka", []byte("x"), base)
			b.put("sync/marka-backup-20260301-120000.marka", []byte("x"), base)

			latest, err := tr.ListLatest(ctx, "sync/")
			So(err, ShouldBeNil)
			So(latest.Provider, ShouldEqual, "a")
		})

		Convey("Objects that are not artifacts are ignored", func() {
			a.put("sync/notes.txt", []byte("x"), base.Add(time.Hour))
			a.put("sync/marka-backup-20260301-120000.marka.tmp", []byte("x"), base.Add(time.Hour))
			b.put("sync/marka-backup-20260301-120000.marka", []byte("x"), base)

			latest, err := tr.ListLatest(ctx, "sync/")
			So(err, ShouldBeNil)
			So(latest.Provider, ShouldEqual, "b")
		})

		Convey("A provider that cannot list is skipped", func() {
			a.failures = -1
			b.put("sync/marka-backup-20260301-120000.marka", []byte("x"), base)

			latest, err := tr.ListLatest(ctx, "sync/")
			So(err, ShouldBeNil)
			So(latest.Provider, ShouldEqual, "b")
		})

		Convey("Every provider failing is a transport failure", func() {
			a.failures = -1
			b.failures = -1

			_, err := tr.ListLatest(ctx, "sync/")
			So(errors.Is(err, domain.ErrTransportFailed), ShouldBeTrue)
		})

		Convey("Nothing under the prefix reports no artifact", func() {
			a.put("backups/marka-backup-20260301-120000.marka", []byte("x"), base)

			_, err := tr.ListLatest(ctx, "sync/")
			So(errors.Is(err, domain.ErrNoArtifact), ShouldBeTrue)
		})
	})

	Convey("Without providers ListLatest reports no provider", t, func() {
		_, err := newTestTransport(1).ListLatest(context.Background(), "sync/")
		So(errors.Is(err, domain.ErrNoProviderConfigured), ShouldBeTrue)
	})
}
