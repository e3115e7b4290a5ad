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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPool(t *testing.T) {
	Convey("Given a pool of 1 to 3 threads", t, func() {
		p := NewPool(1, 3, 0)
		defer p.Shutdown(context.Background())

		So(p.Stats().Running, ShouldEqual, 1)
		So(waitFor(time.Second, func() bool { return p.Stats().Capacity == 3 }), ShouldBeTrue)

		Convey("Threads grow with load up to the maximum", func() {
			release := make(chan struct{})
			var active, peak int32
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				So(p.Submit(func() {
					defer wg.Done()
					n := atomic.AddInt32(&active, 1)
					for {
						old := atomic.LoadInt32(&peak)
						if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
							break
						}
					}
					<-release
					atomic.AddInt32(&active, -1)
				}), ShouldBeNil)
			}
			So(waitFor(time.Second, func() bool { return p.Stats().Busy == 3 }), ShouldBeTrue)
			st := p.Stats()
			So(st.Running, ShouldEqual, 3)
			So(st.Backlog, ShouldEqual, 2)
			So(st.Capacity, ShouldEqual, 0)

			close(release)
			wg.Wait()
			So(atomic.LoadInt32(&peak), ShouldEqual, 3)

			Convey("Idle threads are trimmed to the minimum", func() {
				So(waitFor(time.Second, func() bool { return p.Stats().Busy == 0 }), ShouldBeTrue)
				p.Trim()
				So(waitFor(time.Second, func() bool { return p.Stats().Running == 1 }), ShouldBeTrue)
				So(p.Stats().Capacity, ShouldEqual, 3)
			})

			Convey("New work cancels a pending trim", func() {
				So(waitFor(time.Second, func() bool { return p.Stats().Capacity == 3 }), ShouldBeTrue)
				p.mx.Lock()
				p.trim = p.waiting
				p.mx.Unlock()

				done := make(chan struct{})
				So(p.Submit(func() { close(done) }), ShouldBeNil)
				<-done
				So(waitFor(time.Second, func() bool { return p.Stats().Busy == 0 }), ShouldBeTrue)
				time.Sleep(50 * time.Millisecond)
				So(p.Stats().Running, ShouldEqual, 3)
			})
		})

		Convey("Tasks are refused after shutdown", func() {
			So(p.Shutdown(context.Background()), ShouldBeNil)
			So(p.Submit(func() {}), ShouldEqual, ErrPoolClosed)
		})

		Convey("Shutdown waits for queued tasks", func() {
			var ran int32
			for i := 0; i < 4; i++ {
				p.Submit(func() {
					time.Sleep(10 * time.Millisecond)
					atomic.AddInt32(&ran, 1)
				})
			}
			So(p.Shutdown(context.Background()), ShouldBeNil)
			So(atomic.LoadInt32(&ran), ShouldEqual, 4)
		})

		Convey("Shutdown gives up at the deadline", func() {
			block := make(chan struct{})
			defer close(block)
			p.Submit(func() { <-block })
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			So(p.Shutdown(ctx), ShouldEqual, context.DeadlineExceeded)
		})
	})

	Convey("Idle threads above the minimum are reaped", t, func() {
		p := NewPool(0, 2, 20*time.Millisecond)
		defer p.Shutdown(context.Background())
		done := make(chan struct{})
		p.Submit(func() { close(done) })
		<-done
		So(waitFor(time.Second, func() bool { return p.Stats().Running == 0 }), ShouldBeTrue)
	})
}
