package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/semmidev/markavault/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingNotifier struct {
	events []domain.Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev domain.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti(t *testing.T) {
	Convey("Given a multi notifier with a failing member", t, func() {
		core, logs := observer.New(zap.InfoLevel)
		log := zap.New(core).Sugar()

		failing := &recordingNotifier{err: errors.New("telegram is down")}
		healthy := &recordingNotifier{}
		multi := NewMulti(log, failing, healthy)

		ev := domain.Event{Operation: "sync", Success: true, Detail: "2/2 providers", At: time.Now()}
		err := multi.Notify(context.Background(), ev)

		Convey("Every member still receives the event", func() {
			So(err, ShouldBeNil)
			So(len(failing.events), ShouldEqual, 1)
			So(healthy.events, ShouldResemble, []domain.Event{ev})
		})

		Convey("The failure is logged as a warning", func() {
			So(logs.FilterLevelExact(zap.WarnLevel).Len(), ShouldEqual, 1)
		})
	})
}

func TestLog(t *testing.T) {
	Convey("Given a log notifier", t, func() {
		core, logs := observer.New(zap.DebugLevel)
		n := NewLog(zap.New(core).Sugar())
		ctx := context.Background()

		Convey("Levels follow the event outcome", func() {
			n.Notify(ctx, domain.Event{Operation: "backup", Success: true})
			n.Notify(ctx, domain.Event{Operation: "sync", Success: true, Warning: true})
			n.Notify(ctx, domain.Event{Operation: "restore", Success: false})

			entries := logs.All()
			So(len(entries), ShouldEqual, 3)
			So(entries[0].Level, ShouldEqual, zap.InfoLevel)
			So(entries[1].Level, ShouldEqual, zap.WarnLevel)
			So(entries[2].Level, ShouldEqual, zap.ErrorLevel)
		})
	})
}

func TestFormatMessage(t *testing.T) {
	Convey("Telegram messages carry the status line", t, func() {
		at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

		msg := formatMessage("marka", domain.Event{Operation: "sync", Success: true, Warning: true, Detail: "1 of 2 providers failed", At: at})
		So(msg, ShouldContainSubstring, "Succeeded with warnings")
		So(msg, ShouldContainSubstring, "1 of 2 providers failed")
		So(msg, ShouldContainSubstring, "2026-03-01 10:30:00")

		msg = formatMessage("marka", domain.Event{Operation: "restore", Success: false, At: at})
		So(msg, ShouldContainSubstring, "Failed")
	})
}
