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
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// WorkerCommand returns the command that runs worker index.  The cluster
// supplies descriptors and stdin itself.
type WorkerCommand func(index int) *exec.Cmd

// Cluster runs and watches a fixed number of worker processes sharing a
// listener.  Exited workers are restarted, subject to rate limiting;
// workers that stop checking in are killed and then restarted.
type Cluster struct {
	cfg     *ServerConfig
	cfgYAML []byte
	ln      *os.File
	command WorkerCommand
	log     logrus.FieldLogger
	workers []*Worker
	limited map[int]bool
	started bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}
	mx      sync.Mutex
}

// NewCluster prepares workers for cfg.  ln is the shared listener's
// descriptor, handed to every worker.
func NewCluster(cfg *ServerConfig, ln *os.File, command WorkerCommand, log logrus.FieldLogger) (*Cluster, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	c := &Cluster{
		cfg:     cfg,
		cfgYAML: b,
		ln:      ln,
		command: command,
		log:     log,
		limited: make(map[int]bool),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		c.workers = append(c.workers, newWorker(i, log, cfg.WorkerRestartLimit, cfg.WorkerRestartPeriod))
	}
	return c, nil
}

func (c *Cluster) spawn(w *Worker) error {
	cmd := c.command(w.index)
	cmd.Stdin = bytes.NewReader(c.cfgYAML)
	return w.start(cmd, c.ln)
}

// Start launches every worker and begins monitoring.  If any worker
// cannot be launched, those already started are stopped.
func (c *Cluster) Start() error {
	for _, w := range c.workers {
		if err := c.spawn(w); err != nil {
			c.log.WithError(err).Errorf("Failed to start worker %d", w.index)
			c.stopAll(c.cfg.WorkerShutdownTimeout)
			return err
		}
	}
	c.mx.Lock()
	c.started = true
	c.mx.Unlock()
	go c.monitor()
	return nil
}

func (c *Cluster) monitor() {
	defer close(c.done)
	// A prime number of milliseconds spreads checks out against other
	// periodic work.
	t := time.NewTicker(587 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
		}
		c.checkWorkers(time.Now())
	}
}

func (c *Cluster) checkWorkers(now time.Time) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.stopped {
		return
	}
	for _, w := range c.workers {
		if w.needsRestart() {
			err := c.spawn(w)
			if errors.Is(err, ErrRateLimited) {
				if !c.limited[w.index] {
					c.log.Warnf("Worker %d restarting too quickly", w.index)
				}
				c.limited[w.index] = true
			} else if err != nil {
				c.log.WithError(err).Errorf("Failed to restart worker %d", w.index)
			} else {
				delete(c.limited, w.index)
			}
			continue
		}
		if err := w.check(now, c.cfg.WorkerBootTimeout, c.cfg.WorkerTimeout); err != nil && err != ErrNotRunning {
			w.kill(err.Error())
		}
	}
}

func (c *Cluster) stopAll(timeout time.Duration) bool {
	var g errgroup.Group
	var forced bool
	var fmx sync.Mutex
	for _, w := range c.workers {
		w := w
		g.Go(func() error {
			if w.stop(timeout) {
				fmx.Lock()
				forced = true
				fmx.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return forced
}

// Stop terminates all workers in parallel, each given until ctx's
// deadline to exit before being killed.
func (c *Cluster) Stop(ctx context.Context) error {
	c.mx.Lock()
	if c.stopped {
		c.mx.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mx.Unlock()
	close(c.quit)
	if started {
		<-c.done
	}

	timeout := c.cfg.WorkerShutdownTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			timeout = time.Millisecond
		}
	}
	if c.stopAll(timeout) {
		return ErrStopTimeout
	}
	return nil
}

// Stats reports every worker.
func (c *Cluster) Stats() []WorkerStatus {
	rv := make([]WorkerStatus, 0, len(c.workers))
	for _, w := range c.workers {
		rv = append(rv, w.Status())
	}
	return rv
}

// Booted counts workers that have checked in at least once and are
// still running.
func (c *Cluster) Booted() int {
	n := 0
	for _, w := range c.workers {
		if s := w.Status(); s.Booted && s.Running {
			n++
		}
	}
	return n
}
