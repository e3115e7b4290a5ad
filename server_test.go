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
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func get(client *http.Client, url string) (int, string, error) {
	res, err := client.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	return res.StatusCode, string(b), err
}

func TestServer(t *testing.T) {
	Convey("Given a server running an HTTP application", t, func() {
		cfg := testConfig(t)
		release := make(chan struct{})
		mux := http.NewServeMux()
		mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "hello")
		})
		mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
			<-release
			io.WriteString(w, "done")
		})
		ln, err := Listen(Endpoint{"tcp", "127.0.0.1:0"})
		So(err, ShouldBeNil)
		srv := NewServer(ln, &HandlerApp{Handler: mux}, cfg, testLogger(t))
		go srv.Serve()
		url := "http://" + srv.Addr().String()
		client := &http.Client{Timeout: 5 * time.Second}

		Convey("Requests are served", func() {
			code, body, err := get(client, url+"/hello")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldEqual, "hello")
			So(srv.Shutdown(context.Background()), ShouldBeNil)
		})

		Convey("Shutdown drains in-flight requests", func() {
			type result struct {
				body string
				err  error
			}
			rc := make(chan result, 1)
			go func() {
				_, body, err := get(client, url+"/slow")
				rc <- result{body, err}
			}()
			So(waitFor(time.Second, func() bool { return srv.Stats().Busy == 1 }), ShouldBeTrue)

			stopped := make(chan error, 1)
			go func() {
				stopped <- srv.Shutdown(context.Background())
			}()
			time.Sleep(20 * time.Millisecond)
			_, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
			So(err, ShouldNotBeNil)

			close(release)
			r := <-rc
			So(r.err, ShouldBeNil)
			So(r.body, ShouldEqual, "done")
			So(<-stopped, ShouldBeNil)
		})

		Convey("Idle keep-alive connections do not hold up shutdown", func() {
			code, _, err := get(client, url+"/hello")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			So(srv.Shutdown(ctx), ShouldBeNil)
		})

		Convey("Shutdown closes connections left at the deadline", func() {
			go get(client, url+"/slow")
			So(waitFor(time.Second, func() bool { return srv.Stats().Busy == 1 }), ShouldBeTrue)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			So(srv.Shutdown(ctx), ShouldEqual, ErrStopTimeout)
			close(release)
		})
	})
}

func TestLoadApplication(t *testing.T) {
	Convey("Given a static site entrypoint", t, func() {
		cfg := testConfig(t)
		app, err := LoadApplication(cfg, testLogger(t))
		So(err, ShouldBeNil)

		Convey("Files under the root are served", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			So(err, ShouldBeNil)
			srv := NewServer(ln, app, cfg, testLogger(t))
			go srv.Serve()
			defer srv.Shutdown(context.Background())

			code, body, err := get(http.DefaultClient, "http://"+ln.Addr().String()+"/index.html")
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldEqual, "hello\n")
		})
	})

	Convey("A proxy entrypoint forwards to its upstream", t, func() {
		up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "upstream "+r.URL.Path)
		}))
		defer up.Close()
		cfg := testConfig(t)
		writeFile(t, filepath.Join(cfg.Directory, "app.yaml"), "kind: proxy\nupstream: "+up.URL+"\n")
		app, err := LoadApplication(cfg, testLogger(t))
		So(err, ShouldBeNil)

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		srv := NewServer(ln, app, cfg, testLogger(t))
		go srv.Serve()
		defer srv.Shutdown(context.Background())

		_, body, err := get(http.DefaultClient, "http://"+ln.Addr().String()+"/x")
		So(err, ShouldBeNil)
		So(body, ShouldEqual, "upstream /x")
	})

	Convey("Bad entrypoints are config errors", t, func() {
		cfg := testConfig(t)
		entry := filepath.Join(cfg.Directory, "app.yaml")

		writeFile(t, entry, "kind: rails\n")
		_, err := LoadApplication(cfg, testLogger(t))
		So(IsConfigError(err), ShouldBeTrue)

		writeFile(t, entry, "root: public\n")
		_, err = LoadApplication(cfg, testLogger(t))
		So(IsConfigError(err), ShouldBeTrue)

		writeFile(t, entry, "kind: proxy\nupstream: /relative\n")
		_, err = LoadApplication(cfg, testLogger(t))
		So(IsConfigError(err), ShouldBeTrue)

		os.RemoveAll(filepath.Join(cfg.Directory, "public"))
		writeFile(t, entry, "kind: static\nroot: public\n")
		_, err = LoadApplication(cfg, testLogger(t))
		So(IsConfigError(err), ShouldBeTrue)
	})
}
