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
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Version is reported in stats and state snapshots.
const Version = "0.3.0"

// RestartHandler runs synchronously before the successor is launched.
// It receives the successor's launch context and should clear whatever
// cached environment or isolation state the new instance must not
// inherit, for example with lc.Unsetenv.
type RestartHandler func(lc *LaunchContext)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sends supervisor logs to l instead of a logger built for
// the configured environment.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Supervisor) {
		s.log = l
		s.ownLog = false
	}
}

// WithLaunchContext overrides the captured launch context used for
// restarts and workers.
func WithLaunchContext(lc *LaunchContext) Option {
	return func(s *Supervisor) {
		s.launch = lc
	}
}

// WithInherited makes Start adopt an already bound listener instead of
// binding, and report readiness on ready once running.  Either may be
// nil.  This is how a restart successor starts.
func WithInherited(listener, ready *os.File) Option {
	return func(s *Supervisor) {
		s.inherit = listener
		s.ready = ready
	}
}

// WithWorkerCommand overrides how worker processes are launched.
func WithWorkerCommand(wc WorkerCommand) Option {
	return func(s *Supervisor) {
		s.workerCmd = wc
	}
}

// Handle represents a running server instance.
type Handle struct {
	Pid       int
	BootID    string
	Address   string
	Mode      string
	StartedAt time.Time

	cfg      *ServerConfig
	ln       net.Listener
	lnFile   *os.File
	server   *Server
	cluster  *Cluster
	redirect *Redirector
	handover bool
	done     chan struct{}
}

// Done is closed once the instance has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Config returns the configuration the instance runs with.
func (h *Handle) Config() *ServerConfig {
	return h.cfg
}

// Addr returns the bound listener address.
func (h *Handle) Addr() net.Addr {
	return h.ln.Addr()
}

// Stats is a point-in-time report of the supervisor.
type Stats struct {
	Version       string         `json:"version" yaml:"version"`
	State         string         `json:"state" yaml:"state"`
	Pid           int            `json:"pid" yaml:"pid"`
	BootID        string         `json:"boot_id" yaml:"boot_id"`
	Mode          string         `json:"mode" yaml:"mode"`
	Address       string         `json:"address" yaml:"address"`
	StartedAt     time.Time      `json:"started_at" yaml:"started_at"`
	Workers       int            `json:"workers" yaml:"workers"`
	BootedWorkers int            `json:"booted_workers" yaml:"booted_workers"`
	Pool          *PoolStats     `json:"pool,omitempty" yaml:"pool,omitempty"`
	WorkerStatus  []WorkerStatus `json:"worker_status,omitempty" yaml:"worker_status,omitempty"`
}

// Supervisor owns the lifecycle of one server process.
type Supervisor struct {
	state     stateMachine
	log       *logrus.Logger
	ownLog    bool
	ring      *Log
	launch    *LaunchContext
	workerCmd WorkerCommand
	inherit   *os.File
	ready     *os.File
	handlers  []RestartHandler
	handle    *Handle
	settled   chan struct{} // closed when an in-flight restart finishes
	mx        sync.Mutex
}

// New returns an idle Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		log:    NewLogger(EnvDevelopment, os.Stderr),
		ownLog: true,
		ring:   NewLog(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.launch == nil {
		s.launch = CaptureLaunchContext()
	}
	s.log.AddHook(s.ring.Hook())
	return s
}

// Logger returns the supervisor's logger.
func (s *Supervisor) Logger() *logrus.Logger {
	return s.log
}

// Log returns the in-memory copy of recent log lines.
func (s *Supervisor) Log() *Log {
	return s.ring
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return s.state.get()
}

// Handle returns the running instance, or nil.
func (s *Supervisor) Handle() *Handle {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.handle
}

// OnRestart registers a handler to run before each restart.
func (s *Supervisor) OnRestart(h RestartHandler) {
	s.mx.Lock()
	s.handlers = append(s.handlers, h)
	s.mx.Unlock()
}

// Start validates cfg, binds the listener, starts the thread pool or the
// worker processes, redirects standard streams, and writes the pid and
// state files.  Any failure is fatal: nothing is left running and the
// supervisor moves to Stopped.  Errors are *ConfigError, *PathError or
// *BindError.
func (s *Supervisor) Start(cfg *ServerConfig) (*Handle, error) {
	if err := s.state.to(StateStarting, StateIdle); err != nil {
		return nil, err
	}
	h, err := s.start(cfg)
	if err != nil {
		s.log.WithError(err).Error("Startup failed")
		s.state.to(StateStopped)
		return nil, err
	}
	s.mx.Lock()
	s.handle = h
	s.mx.Unlock()
	s.state.to(StateRunning)
	return h, nil
}

func (s *Supervisor) start(cfg *ServerConfig) (*Handle, error) {
	cfg = cfg.Clone()
	if dir, err := filepath.Abs(cfg.Directory); err == nil {
		cfg.Directory = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s.ownLog {
		configureLogger(s.log, cfg.Environment)
	}

	var app Application
	if cfg.Workers == 0 {
		a, err := LoadApplication(cfg, s.log)
		if err != nil {
			return nil, err
		}
		app = a
	} else if _, err := ReadDescriptor(cfg.Path(cfg.Entrypoint)); err != nil {
		return nil, &ConfigError{"entrypoint", err.Error()}
	}

	continuing := s.inherit != nil
	ep := cfg.Endpoint()
	var ln net.Listener
	var err error
	if continuing {
		ln, err = ListenerFromFile(s.inherit, ep, true)
		s.inherit = nil
	} else {
		ln, err = Listen(ep)
	}
	if err != nil {
		return nil, err
	}

	h := &Handle{
		Pid:       os.Getpid(),
		BootID:    uuid.NewString(),
		Address:   boundAddress(ep, ln),
		Mode:      cfg.modeName(),
		StartedAt: time.Now(),
		cfg:       cfg,
		ln:        ln,
		done:      make(chan struct{}),
	}

	rcfg := Redirect{
		Stdout: cfg.Path(cfg.StdoutRedirect.Stdout),
		Stderr: cfg.Path(cfg.StdoutRedirect.Stderr),
		Append: cfg.StdoutRedirect.Append,
	}
	if h.redirect, err = OpenRedirect(rcfg, continuing); err != nil {
		ln.Close()
		return nil, err
	}
	if rcfg.Stdout != "" || rcfg.Stderr != "" {
		if err = h.redirect.Install(); err != nil {
			s.abort(h)
			return nil, err
		}
	}

	if cfg.Workers == 0 {
		h.server = NewServer(ln, app, cfg, s.log)
		go h.server.Serve()
	} else {
		if h.lnFile, err = listenerFile(ln); err != nil {
			s.abort(h)
			return nil, &BindError{ep.String(), err}
		}
		if h.cluster, err = NewCluster(cfg, h.lnFile, s.workerCommand(cfg), s.log); err == nil {
			err = h.cluster.Start()
		}
		if err != nil {
			s.abort(h)
			return nil, workerStartError(err)
		}
	}

	if cfg.PidFile != "" {
		if err = WritePidFile(cfg.Path(cfg.PidFile), h.Pid); err != nil {
			s.abort(h)
			return nil, err
		}
	}
	if err = s.writeState(h, StateRunning); err != nil {
		s.abort(h)
		if cfg.PidFile != "" {
			removePidFile(cfg.Path(cfg.PidFile), h.Pid)
		}
		return nil, err
	}

	if err := setProcessTitle(cfg.title()); err != nil {
		s.log.WithError(err).Debug("Cannot set process title")
	}
	if s.ready != nil {
		if err := ReportReady(s.ready); err != nil {
			s.log.WithError(err).Warn("Cannot report readiness to previous instance")
		}
		s.ready = nil
	}

	s.log.WithFields(logrus.Fields{
		"pid":     h.Pid,
		"mode":    h.Mode,
		"address": h.Address,
		"env":     cfg.Environment,
		"threads": fmt.Sprintf("%d:%d", cfg.Threads.Min, cfg.Threads.Max),
		"workers": cfg.Workers,
		"tag":     cfg.Tag,
	}).Info("Server started")
	return h, nil
}

// boundAddress reports the address actually bound, which differs from
// the configured one when a TCP port of 0 is given.
func boundAddress(ep Endpoint, ln net.Listener) string {
	if ep.Network == "tcp" {
		ep.Address = ln.Addr().String()
	}
	return ep.String()
}

// workerStartError files a failure to launch workers under the start
// error kinds: a missing executable is a *PathError, anything else a
// *ConfigError on the workers option.
func workerStartError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) && errors.Is(err, fs.ErrNotExist) {
		return &PathError{Option: "workers", Path: pe.Path, Err: err}
	}
	var ee *exec.Error
	if errors.As(err, &ee) {
		return &PathError{Option: "workers", Path: ee.Name, Err: err}
	}
	return &ConfigError{"workers", "cannot start workers: " + err.Error()}
}

// abort releases what a failed start acquired.
func (s *Supervisor) abort(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if h.cluster != nil {
		h.cluster.Stop(ctx)
	}
	if h.server != nil {
		h.server.Shutdown(ctx)
	}
	if h.lnFile != nil {
		h.lnFile.Close()
	}
	h.ln.Close()
	if h.redirect != nil {
		h.redirect.Close()
	}
}

func (s *Supervisor) workerCommand(cfg *ServerConfig) WorkerCommand {
	if s.workerCmd != nil {
		return s.workerCmd
	}
	return func(index int) *exec.Cmd {
		lc := s.launch.Clone()
		if cfg.PruneEnv {
			lc.Prune(cfg.KeepEnv)
		}
		argv0 := lc.Path
		if len(lc.Args) > 0 {
			argv0 = lc.Args[0]
		}
		lc.Args = []string{argv0, "worker", "--index", strconv.Itoa(index)}
		lc.Dir = cfg.Directory
		lc.Stdout = os.Stdout
		lc.Stderr = os.Stderr
		return lc.Command()
	}
}

func (s *Supervisor) writeState(h *Handle, st State) error {
	cfg := h.cfg
	if cfg.StatePath == "" {
		return nil
	}
	snap := &StateSnapshot{
		Version:     Version,
		Pid:         h.Pid,
		BootID:      h.BootID,
		Status:      st.String(),
		Mode:        h.Mode,
		StartedAt:   h.StartedAt,
		UpdatedAt:   time.Now(),
		RunningFrom: cfg.Directory,
		Address:     h.Address,
		ControlURL:  cfg.Control.URL,
		Config:      cfg,
	}
	if h.cluster != nil {
		snap.Workers = h.cluster.Stats()
	}
	return WriteStateFile(cfg.Path(cfg.StatePath), snap)
}

// Stop requests a graceful shutdown and waits up to timeout (or the
// configured shutdown_timeout if zero) for in-flight work to drain,
// after which remaining workers and connections are terminated and a
// *StopError is returned.  A restart in progress is allowed to finish
// first; if it hands over to a successor, Stop returns nil once this
// instance has drained.
func (s *Supervisor) Stop(h *Handle, timeout time.Duration) error {
	if h == nil {
		return ErrNotRunning
	}
	var err error
	for {
		s.mx.Lock()
		settled := s.settled
		if settled == nil {
			err = s.state.to(StateStopping, StateRunning)
		}
		s.mx.Unlock()
		if settled == nil {
			break
		}
		<-settled
	}
	if err != nil {
		select {
		case <-h.done:
			return nil
		default:
		}
		return err
	}
	return s.stop(h, timeout)
}

// stop tears down h; the state is already Stopping.
func (s *Supervisor) stop(h *Handle, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = h.cfg.ShutdownTimeout
	}
	s.log.Infof("Stopping (timeout %v)", timeout)
	err := s.teardown(h, timeout)

	s.mx.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mx.Unlock()
	s.state.to(StateStopped)
	close(h.done)
	if err != nil {
		s.log.WithError(err).Warn("Stopped with errors")
		return err
	}
	s.log.Info("Stopped")
	return nil
}

func (s *Supervisor) teardown(h *Handle, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if h.handover {
		keepSocket(h.ln)
	}
	var err error
	if h.server != nil {
		err = h.server.Shutdown(ctx)
	}
	if h.cluster != nil {
		err = h.cluster.Stop(ctx)
		h.lnFile.Close()
		h.ln.Close()
	}
	if !h.handover {
		cfg := h.cfg
		if cfg.PidFile != "" {
			if rerr := removePidFile(cfg.Path(cfg.PidFile), h.Pid); rerr != nil {
				s.log.WithError(rerr).Warn("Cannot remove pid file")
			}
		}
		if serr := s.writeState(h, StateStopped); serr != nil {
			s.log.WithError(serr).Warn("Cannot write state file")
		}
	}
	if err != nil {
		return &StopError{Timeout: timeout, Err: err}
	}
	return nil
}

// Halt stops the running instance in the background, for callers that
// must return before the shutdown completes.
func (s *Supervisor) Halt() error {
	h := s.Handle()
	if h == nil {
		return ErrNotRunning
	}
	go s.Stop(h, 0)
	return nil
}

// Restart launches a successor with the same arguments, after running
// the restart handlers against its launch context.  The successor
// inherits the bound socket, so no connection is refused during the
// switch.  This instance keeps serving until the successor reports
// ready, then drains and stops.  If the successor fails, the failure is
// logged, this instance returns to Running, and the error is returned.
func (s *Supervisor) Restart() error {
	h := s.Handle()
	if h == nil {
		return ErrNotRunning
	}
	s.mx.Lock()
	err := s.state.to(StateRestarting, StateRunning)
	if err == nil {
		s.settled = make(chan struct{})
	}
	s.mx.Unlock()
	if err != nil {
		if s.state.get() == StateRestarting {
			return ErrRestartInProgress
		}
		return err
	}
	defer func() {
		s.mx.Lock()
		close(s.settled)
		s.settled = nil
		s.mx.Unlock()
	}()
	s.log.Info("Restart requested")

	s.mx.Lock()
	handlers := append([]RestartHandler(nil), s.handlers...)
	s.mx.Unlock()
	lc := s.launch.Clone()
	for _, fn := range handlers {
		fn(lc)
	}

	var f *os.File
	f, err = listenerFile(h.ln)
	if err == nil {
		_, err = lc.Handover(f, h.cfg.RestartTimeout, s.log)
		f.Close()
	}
	if err != nil {
		s.log.WithError(err).Error("Restart failed; continuing with current configuration")
		s.state.to(StateRunning)
		return err
	}
	h.handover = true
	s.state.to(StateStopping)
	err = s.stop(h, h.cfg.ShutdownTimeout)
	var se *StopError
	if errors.As(err, &se) {
		return nil
	}
	return err
}

// ReopenLogs reopens the redirected stdout and stderr files.
func (s *Supervisor) ReopenLogs() error {
	h := s.Handle()
	if h == nil {
		return ErrNotRunning
	}
	if err := h.redirect.Reopen(); err != nil {
		s.log.WithError(err).Error("Cannot reopen log files")
		return err
	}
	s.log.Info("Reopened log files")
	return nil
}

// Stats reports the supervisor and its workers or thread pool.
func (s *Supervisor) Stats() *Stats {
	st := &Stats{
		Version: Version,
		State:   s.State().String(),
		Pid:     os.Getpid(),
	}
	h := s.Handle()
	if h == nil {
		return st
	}
	st.BootID = h.BootID
	st.Mode = h.Mode
	st.Address = h.Address
	st.StartedAt = h.StartedAt
	st.Workers = h.cfg.Workers
	if h.server != nil {
		ps := h.server.Stats()
		st.Pool = &ps
	}
	if h.cluster != nil {
		st.WorkerStatus = h.cluster.Stats()
		st.BootedWorkers = h.cluster.Booted()
	}
	return st
}
