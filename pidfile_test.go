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

func TestPidFile(t *testing.T) {
	Convey("Given a pid file path", t, func() {
		path := filepath.Join(t.TempDir(), "app.pid")

		So(WritePidFile(path, 4242), ShouldBeNil)
		So(readFile(path), ShouldEqual, "4242\n")
		pid, err := ReadPidFile(path)
		So(err, ShouldBeNil)
		So(pid, ShouldEqual, 4242)

		Convey("It is left alone when it names another process", func() {
			So(removePidFile(path, 1), ShouldBeNil)
			_, err := os.Stat(path)
			So(err, ShouldBeNil)
		})

		Convey("It is removed when it names ours", func() {
			So(removePidFile(path, 4242), ShouldBeNil)
			_, err := os.Stat(path)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("No temporary files are left behind", func() {
			So(WritePidFile(path, 7), ShouldBeNil)
			ents, _ := os.ReadDir(filepath.Dir(path))
			So(len(ents), ShouldEqual, 1)
		})
	})

	Convey("An unwritable location is a path error", t, func() {
		err := WritePidFile(filepath.Join(t.TempDir(), "no", "app.pid"), 1)
		So(IsPathError(err), ShouldBeTrue)
	})
}

func TestStateFile(t *testing.T) {
	Convey("A snapshot is readable by external tools", t, func() {
		path := filepath.Join(t.TempDir(), "state.yaml")
		cfg := testConfig(t)
		now := time.Now().Truncate(time.Second)
		snap := &StateSnapshot{
			Version:   Version,
			Pid:       99,
			BootID:    "b0",
			Status:    StateRunning.String(),
			Mode:      "single",
			StartedAt: now,
			Config:    cfg,
		}
		So(WriteStateFile(path, snap), ShouldBeNil)
		So(readFile(path), ShouldContainSubstring, "status: running")

		got, err := ReadStateFile(path)
		So(err, ShouldBeNil)
		So(got.Pid, ShouldEqual, 99)
		So(got.StartedAt.Equal(now), ShouldBeTrue)
		So(got.Config.Threads, ShouldResemble, cfg.Threads)
	})
}

func TestStateMachine(t *testing.T) {
	Convey("Lifecycle transitions are enforced", t, func() {
		var m stateMachine
		So(m.get(), ShouldEqual, StateIdle)
		So(m.to(StateRunning), ShouldNotBeNil)
		So(m.to(StateStarting, StateIdle), ShouldBeNil)
		So(m.to(StateRunning), ShouldBeNil)

		err := m.to(StateStarting, StateIdle)
		So(errors.Is(err, ErrBadState), ShouldBeTrue)

		So(m.to(StateRestarting, StateRunning), ShouldBeNil)
		So(m.to(StateRunning), ShouldBeNil)
		So(m.to(StateStopping), ShouldBeNil)
		So(m.to(StateStopped), ShouldBeNil)
		So(m.to(StateStarting), ShouldNotBeNil)

		So(StateRestarting.CanTransition(StateStarting), ShouldBeTrue)
		So(StateStarting.CanTransition(StateStopped), ShouldBeTrue)
		So(StateStopped.String(), ShouldEqual, "stopped")
	})
}
