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
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// State is a Supervisor lifecycle state.
//
//	Idle -> Starting -> Running -> Stopping -> Stopped
//	                       |  ^         ^
//	                       v  |         |
//	                    Restarting -----+
//
// Starting may also fall through to Stopped when startup fails.  From
// Restarting, a successful hand-over continues to Stopping (the successor
// process begins its own life at Starting) and a failed one returns to
// Running under the old configuration.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateStopping
	StateStopped
)

var stateNames = [...]string{"idle", "starting", "running", "restarting", "stopping", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateIdle:       {StateStarting},
	StateStarting:   {StateRunning, StateStopped},
	StateRunning:    {StateRestarting, StateStopping},
	StateRestarting: {StateStarting, StateRunning, StateStopping},
	StateStopping:   {StateStopped},
}

// CanTransition reports whether moving from s to next is permitted.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

type stateMachine struct {
	cur   State
	stamp time.Time
	mx    sync.Mutex
}

func (m *stateMachine) get() State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.cur
}

// to moves to next if permitted from one of the states in from (or from
// any state when from is empty).
func (m *stateMachine) to(next State, from ...State) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if len(from) > 0 {
		ok := false
		for _, f := range from {
			if m.cur == f {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrBadState, m.cur)
		}
	}
	if !m.cur.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadState, m.cur, next)
	}
	m.cur = next
	m.stamp = time.Now()
	return nil
}

// StateSnapshot is the record written to state_path for external tools.
// The supervisor never reads it back.
type StateSnapshot struct {
	Version     string         `yaml:"version"`
	Pid         int            `yaml:"pid"`
	BootID      string         `yaml:"boot_id"`
	Status      string         `yaml:"status"`
	Mode        string         `yaml:"mode"`
	StartedAt   time.Time      `yaml:"started_at"`
	UpdatedAt   time.Time      `yaml:"updated_at"`
	RunningFrom string         `yaml:"running_from"`
	Address     string         `yaml:"address"`
	ControlURL  string         `yaml:"control_url,omitempty"`
	Config      *ServerConfig  `yaml:"config"`
	Workers     []WorkerStatus `yaml:"workers,omitempty"`
}

// WriteStateFile serializes snap to path atomically.
func WriteStateFile(path string, snap *StateSnapshot) error {
	b, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, b); err != nil {
		return &PathError{"state_path", path, err}
	}
	return nil
}

// ReadStateFile parses a snapshot written by WriteStateFile.
func ReadStateFile(path string) (*StateSnapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap := &StateSnapshot{}
	if err := yaml.Unmarshal(b, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
