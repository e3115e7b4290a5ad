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
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/sys/unix"
)

// shortDir keeps unix socket paths under the platform length limit.
func shortDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "av")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestParseBind(t *testing.T) {
	Convey("Bind URIs are parsed", t, func() {
		ep, err := ParseBind("tcp://0.0.0.0:9292")
		So(err, ShouldBeNil)
		So(ep, ShouldResemble, Endpoint{"tcp", "0.0.0.0:9292"})
		So(ep.String(), ShouldEqual, "tcp://0.0.0.0:9292")

		ep, err = ParseBind("unix:///var/run/app.sock")
		So(err, ShouldBeNil)
		So(ep, ShouldResemble, Endpoint{"unix", "/var/run/app.sock"})

		ep, err = ParseBind("unix://tmp/app.sock")
		So(err, ShouldBeNil)
		So(ep.Address, ShouldEqual, "tmp/app.sock")

		for _, bad := range []string{"", "ssl://0.0.0.0:443", "tcp://", "tcp://localhost", "unix://"} {
			_, err = ParseBind(bad)
			So(IsConfigError(err), ShouldBeTrue)
		}
	})
}

func TestListen(t *testing.T) {
	Convey("Given a unix socket path", t, func() {
		path := filepath.Join(shortDir(t), "app.sock")
		ep := Endpoint{"unix", path}

		Convey("Listen creates the socket", func() {
			l, err := Listen(ep)
			So(err, ShouldBeNil)
			defer l.Close()
			st, err := os.Stat(path)
			So(err, ShouldBeNil)
			So(st.Mode()&os.ModeSocket, ShouldNotEqual, 0)

			Convey("A second listener fails with a bind error", func() {
				_, err := Listen(ep)
				So(IsBindError(err), ShouldBeTrue)
				So(errors.Is(err, syscall.EADDRINUSE), ShouldBeTrue)
			})
		})

		Convey("A stale socket is replaced", func() {
			l, err := Listen(ep)
			So(err, ShouldBeNil)
			keepSocket(l)
			l.Close()
			_, err = os.Stat(path)
			So(err, ShouldBeNil)

			l, err = Listen(ep)
			So(err, ShouldBeNil)
			l.Close()
		})

		Convey("A regular file in the way is a bind error", func() {
			writeFile(t, path, "x")
			_, err := Listen(ep)
			So(IsBindError(err), ShouldBeTrue)
		})
	})

	Convey("A TCP port in use is a bind error", t, func() {
		l, err := Listen(Endpoint{"tcp", "127.0.0.1:0"})
		So(err, ShouldBeNil)
		defer l.Close()
		_, err = Listen(Endpoint{"tcp", l.Addr().String()})
		So(IsBindError(err), ShouldBeTrue)
		So(errors.Is(err, syscall.EADDRINUSE), ShouldBeTrue)
	})

	Convey("A listener survives a trip through a descriptor", t, func() {
		path := filepath.Join(shortDir(t), "fd.sock")
		ep := Endpoint{"unix", path}
		l, err := Listen(ep)
		So(err, ShouldBeNil)
		f, err := listenerFile(l)
		So(err, ShouldBeNil)

		shared, err := ListenerFromFile(f, ep, false)
		So(err, ShouldBeNil)
		shared.Close()
		_, err = os.Stat(path)
		So(err, ShouldBeNil)

		c, err := net.Dial("unix", path)
		So(err, ShouldBeNil)
		c.Close()
		l.Close()
		_, err = os.Stat(path)
		So(os.IsNotExist(err), ShouldBeTrue)
	})

	Convey("Sharing a listener leaves it non-blocking", t, func() {
		l, err := Listen(Endpoint{"tcp", "127.0.0.1:0"})
		So(err, ShouldBeNil)
		f, err := listenerFile(l)
		So(err, ShouldBeNil)
		f.Fd() // as exec does for ExtraFiles
		defer f.Close()

		So(nonblocking(l), ShouldBeTrue)

		accepted := make(chan error, 1)
		go func() {
			_, err := l.Accept()
			accepted <- err
		}()
		time.Sleep(50 * time.Millisecond)
		closed := make(chan struct{})
		go func() {
			l.Close()
			close(closed)
		}()
		done := false
		select {
		case <-closed:
			done = true
		case <-time.After(2 * time.Second):
		}
		So(done, ShouldBeTrue)
		So(<-accepted, ShouldNotBeNil)
	})
}

func nonblocking(l net.Listener) bool {
	rc, err := l.(syscall.Conn).SyscallConn()
	if err != nil {
		return false
	}
	flags := 0
	rc.Control(func(fd uintptr) {
		flags, _ = unix.FcntlInt(fd, unix.F_GETFL, 0)
	})
	return flags&unix.O_NONBLOCK != 0
}
