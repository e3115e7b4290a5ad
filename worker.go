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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerCheckinInterval is how often workers report to the master.
const WorkerCheckinInterval = 5 * time.Second

// WorkerCheckin is the line a worker writes on its status pipe.
type WorkerCheckin struct {
	Pid  int       `json:"pid"`
	Time time.Time `json:"time"`
	Pool PoolStats `json:"pool"`
}

// WorkerStatus is the master's view of one worker.
type WorkerStatus struct {
	Index       int        `json:"index" yaml:"index"`
	Pid         int        `json:"pid" yaml:"pid"`
	Running     bool       `json:"running" yaml:"running"`
	Booted      bool       `json:"booted" yaml:"booted"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	LastCheckin time.Time  `json:"last_checkin" yaml:"last_checkin"`
	Restarts    int        `json:"restarts" yaml:"restarts"`
	Reason      string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	Pool        *PoolStats `json:"pool,omitempty" yaml:"pool,omitempty"`
}

// Worker is one operating system process serving the shared listener.
type Worker struct {
	index   int
	log     logrus.FieldLogger
	cmd     *exec.Cmd
	pid     int
	running bool
	stopped bool
	booted  bool
	started time.Time
	checkin time.Time
	pool    *PoolStats
	reason  string
	starts  int
	limiter restartLimiter
	exited  chan struct{}
	lock    sync.Mutex
}

func newWorker(index int, log logrus.FieldLogger, limit int, period time.Duration) *Worker {
	return &Worker{
		index:   index,
		log:     log.WithField("worker", index),
		limiter: newRestartLimiter(limit, period),
	}
}

// start launches cmd with the listener as descriptor 3 and a status pipe
// as descriptor 4.
func (w *Worker) start(cmd *exec.Cmd, ln *os.File) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if err := w.limiter.allow(time.Now()); err != nil {
		return err
	}
	r, wr, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.ExtraFiles = []*os.File{ln, wr}
	w.limiter.record(time.Now())
	if err := cmd.Start(); err != nil {
		r.Close()
		wr.Close()
		w.reason = "Failed to start: " + err.Error()
		return err
	}
	wr.Close()

	if w.starts > 0 {
		w.log.Infof("Restarted as pid %d", cmd.Process.Pid)
	} else {
		w.log.Infof("Started as pid %d", cmd.Process.Pid)
	}
	w.starts++
	w.cmd = cmd
	w.pid = cmd.Process.Pid
	w.running = true
	w.stopped = false
	w.booted = false
	w.pool = nil
	w.reason = ""
	w.started = time.Now()
	w.checkin = time.Time{}
	w.exited = make(chan struct{})

	go w.readCheckins(r)
	go w.doWait(cmd, w.exited)
	return nil
}

func (w *Worker) readCheckins(r io.ReadCloser) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var ci WorkerCheckin
		if err := json.Unmarshal(sc.Bytes(), &ci); err != nil {
			w.log.WithError(err).Warn("Bad check-in")
			continue
		}
		w.lock.Lock()
		if !w.booted {
			w.log.Infof("Booted pid %d", ci.Pid)
		}
		w.booted = true
		w.checkin = time.Now()
		pool := ci.Pool
		w.pool = &pool
		w.lock.Unlock()
	}
}

func (w *Worker) doWait(cmd *exec.Cmd, exited chan struct{}) {
	e := cmd.Wait()
	w.lock.Lock()
	w.running = false
	if !w.stopped {
		if e == nil {
			e = errors.New("Unexpected termination")
		}
		w.reason = "Failed: " + e.Error()
		w.log.Warnf("Pid %d failed: %v", cmd.Process.Pid, e)
	}
	w.lock.Unlock()
	close(exited)
}

// stop sends SIGTERM and waits up to timeout before killing the process.
// It reports whether the kill was needed.
func (w *Worker) stop(timeout time.Duration) bool {
	w.lock.Lock()
	w.stopped = true
	if !w.running {
		w.lock.Unlock()
		return false
	}
	proc := w.cmd.Process
	exited := w.exited
	w.lock.Unlock()

	if e := proc.Signal(syscall.SIGTERM); e != nil {
		w.log.Warnf("Failed sending SIGTERM: %v", e)
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-exited:
		w.setReason("Stopped")
		return false
	case <-timer:
	}
	w.log.Warnf("Graceful shutdown of pid %d timed out", proc.Pid)
	if e := proc.Kill(); e != nil {
		w.log.Warnf("Failed killing: %v", e)
	}
	<-exited
	w.setReason("Killed after timeout")
	return true
}

func (w *Worker) setReason(r string) {
	w.lock.Lock()
	w.reason = r
	w.lock.Unlock()
}

// kill terminates an unresponsive worker; the cluster monitor restarts it.
func (w *Worker) kill(reason string) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if !w.running {
		return
	}
	w.log.Warnf("Killing pid %d: %s", w.pid, reason)
	w.reason = reason
	w.cmd.Process.Kill()
}

// check returns an error if the worker should be replaced.
func (w *Worker) check(now time.Time, boot, timeout time.Duration) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if !w.running {
		return ErrNotRunning
	}
	if !w.booted {
		if boot > 0 && now.Sub(w.started) > boot {
			return fmt.Errorf("not booted after %v", boot)
		}
		return nil
	}
	if timeout > 0 && now.Sub(w.checkin) > timeout {
		return fmt.Errorf("no check-in for %v", now.Sub(w.checkin).Round(time.Second))
	}
	return nil
}

func (w *Worker) needsRestart() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return !w.running && !w.stopped
}

// Status returns a snapshot of the worker.
func (w *Worker) Status() WorkerStatus {
	w.lock.Lock()
	defer w.lock.Unlock()
	restarts := w.starts - 1
	if restarts < 0 {
		restarts = 0
	}
	ws := WorkerStatus{
		Index:       w.index,
		Pid:         w.pid,
		Running:     w.running,
		Booted:      w.booted,
		StartedAt:   w.started,
		LastCheckin: w.checkin,
		Restarts:    restarts,
		Reason:      w.reason,
	}
	if w.pool != nil {
		p := *w.pool
		ws.Pool = &p
	}
	return ws
}

// restartLimiter refuses a start when limit starts already happened
// within period.  Once tripped, it holds off for a further full period,
// halving the effective rate for a process that keeps failing.
type restartLimiter struct {
	limit    int
	period   time.Duration
	starts   int
	times    []time.Time
	coolDown bool
}

func newRestartLimiter(limit int, period time.Duration) restartLimiter {
	rl := restartLimiter{limit: limit, period: period}
	if limit > 0 {
		rl.times = make([]time.Time, limit)
	}
	return rl
}

func (rl *restartLimiter) record(now time.Time) {
	if rl.limit > 0 {
		rl.times[rl.starts%rl.limit] = now
	}
	rl.starts++
}

func (rl *restartLimiter) allow(now time.Time) error {
	if rl.limit == 0 || rl.starts < rl.limit {
		return nil
	}
	// The oldest of the last limit starts.
	oldest := rl.times[rl.starts%rl.limit]
	if now.Before(oldest.Add(rl.period)) {
		rl.coolDown = true
		return ErrRateLimited
	}
	if !rl.coolDown {
		return nil
	}
	newest := rl.times[(rl.starts-1)%rl.limit]
	if now.Before(newest.Add(rl.period)) {
		return ErrRateLimited
	}
	rl.coolDown = false
	return nil
}
