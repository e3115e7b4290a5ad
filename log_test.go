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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("Given a log", t, func() {
		l := NewLog()
		recs, id := l.Records(0)
		So(recs, ShouldBeEmpty)

		Convey("Each line becomes a record", func() {
			fmt.Fprintf(l, "one\ntwo\n")
			recs, id2 := l.Records(id)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[1].Text, ShouldEqual, "two")
			So(id2, ShouldEqual, recs[1].Id)

			Convey("Nothing is returned when nothing changed", func() {
				recs, id3 := l.Records(id2)
				So(recs, ShouldBeNil)
				So(id3, ShouldEqual, id2)
			})
		})

		Convey("Only the newest records are kept", func() {
			for i := 0; i < MaxLogRecords+10; i++ {
				fmt.Fprintf(l, "line %d\n", i)
			}
			recs, _ := l.Records(0)
			So(len(recs), ShouldEqual, MaxLogRecords)
			So(recs[0].Text, ShouldEqual, "line 10")
			So(recs[len(recs)-1].Text, ShouldEqual, fmt.Sprintf("line %d", MaxLogRecords+9))
		})

		Convey("Watch returns when a line arrives", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				fmt.Fprintln(l, "wake")
			}()
			start := time.Now()
			next := l.Watch(id, 5*time.Second)
			So(next, ShouldNotEqual, id)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
		})

		Convey("Watch gives up at the deadline", func() {
			So(l.Watch(id, 20*time.Millisecond), ShouldEqual, id)
		})

		Convey("The hook copies logrus entries with sorted fields", func() {
			lg := logrus.New()
			lg.SetOutput(&bytes.Buffer{})
			lg.AddHook(l.Hook())
			lg.WithFields(logrus.Fields{"pid": 7, "mode": "single"}).
				WithError(errors.New("boom")).
				Warn("Worker failed")
			recs, _ := l.Records(id)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].Level, ShouldEqual, "warning")
			So(recs[0].Text, ShouldEqual, `Worker failed error="boom" mode=single pid=7`)
		})
	})

	Convey("Loggers follow the environment profile", t, func() {
		var buf bytes.Buffer
		l := NewLogger(EnvProduction, &buf)
		l.Debug("hidden")
		l.WithField("k", "v").Info("shown")
		var m map[string]interface{}
		So(json.Unmarshal(buf.Bytes(), &m), ShouldBeNil)
		So(m["msg"], ShouldEqual, "shown")
		So(m["k"], ShouldEqual, "v")

		So(NewLogger(EnvDevelopment, &buf).GetLevel(), ShouldEqual, logrus.DebugLevel)
		So(NewLogger(EnvTest, &buf).GetLevel(), ShouldEqual, logrus.WarnLevel)
	})
}
