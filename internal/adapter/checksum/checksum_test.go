package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestChecksum(t *testing.T) {
	Convey("Given the checksum utility", t, func() {
		tempDir := t.TempDir()

		Convey("Files of a single path matches Bytes of its content", func() {
			path := filepath.Join(tempDir, "data.db")
			So(os.WriteFile(path, []byte("0123456789"), 0644), ShouldBeNil)

			fromFile, err := Files(path)
			So(err, ShouldBeNil)
			So(fromFile, ShouldEqual, Bytes([]byte("0123456789")))
			So(fromFile, ShouldEqual, "84d89877f0d4041efb6bf91a16f0248f2fd573e6af05c19f96bedb9f882f7882")
		})

		Convey("Files hashes the concatenation in order", func() {
			a := filepath.Join(tempDir, "a")
			b := filepath.Join(tempDir, "b")
			So(os.WriteFile(a, []byte("hello "), 0644), ShouldBeNil)
			So(os.WriteFile(b, []byte("world"), 0644), ShouldBeNil)

			sum, err := Files(a, b)
			So(err, ShouldBeNil)
			So(sum, ShouldEqual, Bytes([]byte("hello world")))

			reversed, err := Files(b, a)
			So(err, ShouldBeNil)
			So(reversed, ShouldNotEqual, sum)
		})

		Convey("Digest fed in pieces matches Bytes of the whole", func() {
			d := NewDigest()
			_, _ = d.Write([]byte("ab"))
			_, _ = d.Write([]byte("c"))
			So(d.Sum(), ShouldEqual, Bytes([]byte("abc")))
		})

		Convey("Files fails on a missing path", func() {
			_, err := Files(filepath.Join(tempDir, "missing"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to open file")
		})

		Convey("Equal", func() {
			sum := Bytes([]byte("x"))
			So(Equal(sum, strings.ToUpper(sum)), ShouldBeTrue)
			So(Equal(sum, Bytes([]byte("y"))), ShouldBeFalse)
			So(Equal("", ""), ShouldBeFalse)
			So(Equal("zz", "zz"), ShouldBeFalse)
		})
	})
}
