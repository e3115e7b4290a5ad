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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBuilder(t *testing.T) {
	Convey("Given a directory with an entrypoint", t, func() {
		dir := testDir(t)

		Convey("Defaults are applied", func() {
			cfg, err := NewBuilder().Directory(dir).Build()
			So(err, ShouldBeNil)
			So(cfg.Environment, ShouldEqual, EnvDevelopment)
			So(cfg.Threads, ShouldResemble, Threads{Min: 0, Max: 5})
			So(cfg.Bind, ShouldEqual, "tcp://0.0.0.0:9292")
			So(cfg.Workers, ShouldEqual, 0)
			So(cfg.ShutdownTimeout, ShouldEqual, 30*time.Second)
			So(cfg.modeName(), ShouldEqual, "single")
		})

		Convey("Minimum threads above maximum is a config error", func() {
			_, err := NewBuilder().Directory(dir).Threads(8, 2).Build()
			So(IsConfigError(err), ShouldBeTrue)
			var ce *ConfigError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Option, ShouldEqual, "threads")
		})

		Convey("Zero maximum threads is a config error", func() {
			_, err := NewBuilder().Directory(dir).Threads(0, 0).Build()
			So(IsConfigError(err), ShouldBeTrue)
		})

		Convey("Unknown schemes are config errors", func() {
			_, err := NewBuilder().Directory(dir).Bind("ssl://0.0.0.0:443").Build()
			So(IsConfigError(err), ShouldBeTrue)
		})

		Convey("Unknown environments are config errors", func() {
			_, err := NewBuilder().Directory(dir).Environment("qa").Build()
			So(IsConfigError(err), ShouldBeTrue)
		})

		Convey("Negative workers are config errors", func() {
			_, err := NewBuilder().Directory(dir).Workers(-1).Build()
			So(IsConfigError(err), ShouldBeTrue)
		})

		Convey("A missing directory is a path error", func() {
			_, err := NewBuilder().Directory(filepath.Join(dir, "nope")).Build()
			So(IsPathError(err), ShouldBeTrue)
		})

		Convey("A missing entrypoint is a path error", func() {
			_, err := NewBuilder().Directory(dir).Entrypoint("config.ru").Build()
			So(IsPathError(err), ShouldBeTrue)
		})

		Convey("A pid file in a missing directory is a path error", func() {
			_, err := NewBuilder().Directory(dir).PidFile("run/app.pid").Build()
			So(IsPathError(err), ShouldBeTrue)
			var pe *PathError
			So(errors.As(err, &pe), ShouldBeTrue)
			So(pe.Option, ShouldEqual, "pidfile")
		})

		Convey("Option errors are reported before path errors", func() {
			_, err := NewBuilder().Directory(filepath.Join(dir, "nope")).Threads(3, 1).Build()
			So(IsConfigError(err), ShouldBeTrue)
		})

		Convey("Unix socket paths resolve against the directory", func() {
			cfg, err := NewBuilder().Directory(dir).Bind("unix://app.sock").Build()
			So(err, ShouldBeNil)
			So(cfg.Endpoint(), ShouldResemble, Endpoint{"unix", filepath.Join(dir, "app.sock")})
		})

		Convey("Tags show in the process title", func() {
			cfg, err := NewBuilder().Directory(dir).Tag("blue").Workers(2).Build()
			So(err, ShouldBeNil)
			So(cfg.title(), ShouldEqual, "appvisord [blue]")
			So(cfg.modeName(), ShouldEqual, "cluster")
		})

		Convey("Built configurations are independent", func() {
			b := NewBuilder().Directory(dir).PruneEnv("RAILS_*")
			c1, err := b.Build()
			So(err, ShouldBeNil)
			c2, err := b.PruneEnv("FOO").Build()
			So(err, ShouldBeNil)
			So(c1.KeepEnv, ShouldResemble, []string{"RAILS_*"})
			So(c2.PruneEnv, ShouldBeTrue)
		})
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("Given a configuration file", t, func() {
		dir := testDir(t)
		path := filepath.Join(dir, "appvisor.yaml")
		writeFile(t, path, `
rackup: app.yaml
environment: production
bind: tcp://127.0.0.1:9300
threads:
  min: 1
  max: 8
workers: 2
shutdown_timeout: 5s
stdout_redirect:
  stdout: out.log
  append: true
`)

		Convey("Values, aliases and defaults are combined", func() {
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Directory, ShouldEqual, dir)
			So(cfg.Entrypoint, ShouldEqual, "app.yaml")
			So(cfg.Environment, ShouldEqual, EnvProduction)
			So(cfg.Threads, ShouldResemble, Threads{Min: 1, Max: 8})
			So(cfg.Workers, ShouldEqual, 2)
			So(cfg.ShutdownTimeout, ShouldEqual, 5*time.Second)
			So(cfg.RestartTimeout, ShouldEqual, 30*time.Second)
			So(cfg.StdoutRedirect.Stdout, ShouldEqual, "out.log")
			So(cfg.StdoutRedirect.Append, ShouldBeTrue)
		})

		Convey("The environment overrides the file", func() {
			t.Setenv("APPVISOR_WORKERS", "4")
			t.Setenv("APPVISOR_THREADS_MAX", "16")
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Workers, ShouldEqual, 4)
			So(cfg.Threads.Max, ShouldEqual, 16)
		})

		Convey("A .env file next to it is loaded", func() {
			os.Unsetenv("APPVISOR_TAG")
			writeFile(t, filepath.Join(dir, ".env"), "APPVISOR_TAG=canary\n")
			defer os.Unsetenv("APPVISOR_TAG")
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Tag, ShouldEqual, "canary")
		})

		Convey("Invalid values are rejected", func() {
			t.Setenv("APPVISOR_THREADS_MIN", "20")
			_, err := LoadConfig(path)
			So(IsConfigError(err), ShouldBeTrue)
		})

		Convey("A missing file is a config error", func() {
			_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
			So(IsConfigError(err), ShouldBeTrue)
		})
	})
}
