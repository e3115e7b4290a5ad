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

package rest

import (
	"time"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader turn a GET carrying an Etag into
	// a long poll: the server holds the request until the resource
	// moves away from that Etag, or the given number of seconds passes.
	PollEtagHeader = "X-Appvisor-Poll-Etag"
	PollTimeHeader = "X-Appvisor-Poll-Time"

	// MaxPollTime caps PollTimeHeader, in seconds.
	MaxPollTime = 300
)

// StatusInfo is the body of GET /status.
type StatusInfo struct {
	State     string    `json:"state"`
	Pid       int       `json:"pid"`
	BootID    string    `json:"boot_id"`
	Version   string    `json:"version"`
	Mode      string    `json:"mode"`
	Address   string    `json:"address"`
	StartedAt time.Time `json:"started_at"`
}

// Accepted is the body of asynchronous POST requests.
type Accepted struct {
	Status string `json:"status"`
}

// Error is the body of any failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
