package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type recordingWriter struct {
	ctx    context.Context
	buf    bytes.Buffer
	closed bool
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type brokenReader struct {
	head io.Reader
}

func (r *brokenReader) Read(p []byte) (int, error) {
	n, err := r.head.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestUploadObject(t *testing.T) {
	Convey("Given an object writer", t, func() {
		w := &recordingWriter{}
		open := func(ctx context.Context) io.WriteCloser {
			w.ctx = ctx
			return w
		}

		Convey("A complete copy closes the writer", func() {
			err := uploadObject(context.Background(), open, strings.NewReader("payload"))

			So(err, ShouldBeNil)
			So(w.closed, ShouldBeTrue)
			So(w.buf.String(), ShouldEqual, "payload")
		})

		Convey("A failed copy cancels the writer without closing it", func() {
			src := &brokenReader{head: strings.NewReader("part")}
			err := uploadObject(context.Background(), open, src)

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "connection reset")
			So(w.closed, ShouldBeFalse)
			So(w.ctx.Err(), ShouldEqual, context.Canceled)
		})
	})
}
