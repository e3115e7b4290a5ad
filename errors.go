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
	"fmt"
	"time"
)

var (
	ErrBadState          = errors.New("Operation not valid in current state")
	ErrNotRunning        = errors.New("Server is not running")
	ErrRateLimited       = errors.New("Restarting too quickly")
	ErrRestartInProgress = errors.New("Restart already in progress")
	ErrPoolClosed        = errors.New("Thread pool is shut down")
	ErrStopTimeout       = errors.New("Graceful shutdown timed out")
	ErrUnknownAppKind    = errors.New("Unknown application kind")
)

// ConfigError reports a malformed or out-of-range option.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Option, e.Reason)
}

// PathError reports a missing or unwritable file system location.
type PathError struct {
	Option string
	Path   string
	Err    error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path: %s %q: %v", e.Option, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// BindError reports a listening address that could not be acquired.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// StopError is returned by Stop when the drain did not complete cleanly.
// Workers or connections left over after Timeout were terminated.
type StopError struct {
	Timeout time.Duration
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop after %v: %v", e.Timeout, e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsPathError(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

func IsBindError(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}
