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
	"time"

	"github.com/eapache/queue"
)

// PoolStats describes a thread pool at a moment in time.
type PoolStats struct {
	Running  int `json:"running" yaml:"running"`
	Busy     int `json:"busy" yaml:"busy"`
	Backlog  int `json:"backlog" yaml:"backlog"`
	Capacity int `json:"pool_capacity" yaml:"pool_capacity"`
	Min      int `json:"min_threads" yaml:"min_threads"`
	Max      int `json:"max_threads" yaml:"max_threads"`
}

// Pool runs tasks on between min and max goroutines.  Threads are added
// while work is waiting and fewer than max exist; idle threads above min
// are trimmed periodically.  When all max threads are busy, tasks wait in
// a FIFO backlog.
type Pool struct {
	min      int
	max      int
	todo     *queue.Queue
	spawned  int
	waiting  int
	busy     int
	trim     int
	shutdown bool
	work     *sync.Cond
	quit     chan struct{}
	wg       sync.WaitGroup
	mx       sync.Mutex
}

// NewPool starts min threads.  If idle is positive, surplus idle threads
// are reaped every idle interval.
func NewPool(min, max int, idle time.Duration) *Pool {
	if max < 1 {
		max = 1
	}
	if min > max {
		min = max
	}
	p := &Pool{
		min:  min,
		max:  max,
		todo: queue.New(),
		quit: make(chan struct{}),
	}
	p.work = sync.NewCond(&p.mx)
	p.mx.Lock()
	for i := 0; i < min; i++ {
		p.spawn()
	}
	p.mx.Unlock()
	if idle > 0 {
		go p.reaper(idle)
	}
	return p
}

// Call with lock held.
func (p *Pool) spawn() {
	p.spawned++
	p.wg.Add(1)
	go p.thread()
}

func (p *Pool) thread() {
	defer p.wg.Done()
	p.mx.Lock()
	for {
		for p.todo.Length() == 0 {
			if p.shutdown {
				p.spawned--
				p.mx.Unlock()
				return
			}
			if p.trim > 0 && p.spawned > p.min {
				p.trim--
				p.spawned--
				p.mx.Unlock()
				return
			}
			p.waiting++
			p.work.Wait()
			p.waiting--
		}
		task := p.todo.Remove().(func())
		p.busy++
		p.mx.Unlock()

		task()

		p.mx.Lock()
		p.busy--
	}
}

// Submit queues task.  A new thread is started if every existing one is
// occupied and the pool is below max.
func (p *Pool) Submit(task func()) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.shutdown {
		return ErrPoolClosed
	}
	// Idle threads counted by an earlier Trim are needed again.
	p.trim = 0
	p.todo.Add(task)
	if p.waiting < p.todo.Length() && p.spawned < p.max {
		p.spawn()
	}
	p.work.Signal()
	return nil
}

// Trim asks idle threads above the minimum to exit.
func (p *Pool) Trim() {
	p.mx.Lock()
	n := p.spawned - p.min
	if n > p.waiting {
		n = p.waiting
	}
	if n > 0 {
		p.trim = n
		p.work.Broadcast()
	}
	p.mx.Unlock()
}

func (p *Pool) reaper(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-t.C:
			p.Trim()
		}
	}
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mx.Lock()
	defer p.mx.Unlock()
	return PoolStats{
		Running:  p.spawned,
		Busy:     p.busy,
		Backlog:  p.todo.Length(),
		Capacity: p.waiting + (p.max - p.spawned),
		Min:      p.min,
		Max:      p.max,
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks
// to finish, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mx.Lock()
	if !p.shutdown {
		p.shutdown = true
		close(p.quit)
		p.work.Broadcast()
	}
	p.mx.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
