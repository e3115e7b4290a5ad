// Copyright 2026 The Appvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package appvisor

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRedirect(t *testing.T) {
	Convey("Given existing log files", t, func() {
		dir := t.TempDir()
		out := filepath.Join(dir, "out.log")
		errp := filepath.Join(dir, "err.log")
		writeFile(t, out, "old out\n")
		writeFile(t, errp, "old err\n")

		Convey("Append mode preserves content", func() {
			rd, err := OpenRedirect(Redirect{Stdout: out, Stderr: errp, Append: true}, false)
			So(err, ShouldBeNil)
			rd.Stdout().WriteString("new out\n")
			rd.Stderr().WriteString("new err\n")
			rd.Close()
			So(readFile(out), ShouldEqual, "old out\nnew out\n")
			So(readFile(errp), ShouldEqual, "old err\nnew err\n")
		})

		Convey("Truncate mode empties them at first open", func() {
			rd, err := OpenRedirect(Redirect{Stdout: out, Stderr: errp}, false)
			So(err, ShouldBeNil)
			rd.Stdout().WriteString("fresh\n")
			So(readFile(out), ShouldEqual, "fresh\n")
			So(readFile(errp), ShouldEqual, "")

			Convey("Reopening does not truncate", func() {
				So(rd.Reopen(), ShouldBeNil)
				rd.Stdout().WriteString("more\n")
				rd.Close()
				So(readFile(out), ShouldEqual, "fresh\nmore\n")
			})
		})

		Convey("A continuing process does not truncate", func() {
			rd, err := OpenRedirect(Redirect{Stdout: out, Stderr: errp}, true)
			So(err, ShouldBeNil)
			rd.Close()
			So(readFile(out), ShouldEqual, "old out\n")
		})

		Convey("The same path for both streams shares a handle", func() {
			rd, err := OpenRedirect(Redirect{Stdout: out, Stderr: out, Append: true}, false)
			So(err, ShouldBeNil)
			So(rd.Shared(), ShouldBeTrue)
			rd.Stdout().WriteString("a\n")
			rd.Stderr().WriteString("b\n")
			rd.Stdout().WriteString("c\n")
			rd.Close()
			So(readFile(out), ShouldEqual, "old out\na\nb\nc\n")
		})

		Convey("Reopen follows a rotated file", func() {
			rd, err := OpenRedirect(Redirect{Stdout: out, Append: true}, false)
			So(err, ShouldBeNil)
			defer rd.Close()
			So(os.Rename(out, out+".1"), ShouldBeNil)
			rd.Stdout().WriteString("before\n")
			So(rd.Reopen(), ShouldBeNil)
			rd.Stdout().WriteString("after\n")
			So(readFile(out+".1"), ShouldEqual, "old out\nbefore\n")
			So(readFile(out), ShouldEqual, "after\n")
		})

		Convey("Unset streams fall back to the process streams", func() {
			rd, err := OpenRedirect(Redirect{}, false)
			So(err, ShouldBeNil)
			So(rd.Stdout(), ShouldEqual, os.Stdout)
			So(rd.Stderr(), ShouldEqual, os.Stderr)
			So(rd.Shared(), ShouldBeFalse)
		})

		Convey("An unwritable path is a path error", func() {
			_, err := OpenRedirect(Redirect{Stdout: filepath.Join(dir, "no", "out.log")}, false)
			So(IsPathError(err), ShouldBeTrue)
		})
	})
}
