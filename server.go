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
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Server accepts connections on a listener and runs the application for
// each one on a bounded thread pool.  It is used by a single-process
// supervisor and by every worker process.
type Server struct {
	ln      net.Listener
	app     Application
	pool    *Pool
	log     logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
	conns   map[net.Conn]struct{}
	closing bool
	serving bool
	done    chan struct{}
	mx      sync.Mutex
}

// NewServer prepares a server; the thread pool starts immediately.
func NewServer(ln net.Listener, app Application, cfg *ServerConfig, log logrus.FieldLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ln:     ln,
		app:    app,
		pool:   NewPool(cfg.Threads.Min, cfg.Threads.Max, cfg.IdleThreadTimeout),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
		done:   make(chan struct{}),
	}
}

// Serve runs the accept loop until the listener is closed.
func (s *Server) Serve() error {
	s.mx.Lock()
	if s.closing {
		s.mx.Unlock()
		return nil
	}
	s.serving = true
	s.mx.Unlock()
	defer close(s.done)

	var delay time.Duration
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosing() {
				return nil
			}
			// Transient failures such as running out of descriptors.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.log.WithError(err).Warnf("Accept failed; retrying in %v", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.track(c, true)
		err = s.pool.Submit(func() {
			defer s.track(c, false)
			s.app.ServeConn(s.ctx, c)
		})
		if err != nil {
			s.track(c, false)
			c.Close()
		}
	}
}

func (s *Server) isClosing() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.closing
}

func (s *Server) track(c net.Conn, add bool) {
	s.mx.Lock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	s.mx.Unlock()
}

// StopAccepting closes the listener and waits for the accept loop to
// finish the connection it is handing off.
func (s *Server) StopAccepting() {
	s.mx.Lock()
	already := s.closing
	s.closing = true
	serving := s.serving
	s.mx.Unlock()
	if already {
		return
	}
	s.ln.Close()
	if serving {
		<-s.done
	}
}

// Shutdown stops accepting and asks applications to finish their
// connections.  When ctx ends first, the remaining connections are
// closed and ErrStopTimeout is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.StopAccepting()
	s.cancel()
	if err := s.pool.Shutdown(ctx); err == nil {
		return nil
	}
	s.mx.Lock()
	n := len(s.conns)
	for c := range s.conns {
		c.Close()
	}
	s.mx.Unlock()
	s.log.Warnf("Closed %d connections still open at shutdown", n)

	grace, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.pool.Shutdown(grace)
	return ErrStopTimeout
}

// Stats reports the thread pool.
func (s *Server) Stats() PoolStats {
	return s.pool.Stats()
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}
