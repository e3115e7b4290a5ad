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

// Package appvisor supervises a network server process: it binds the
// listening socket, runs connections on an elastic pool of goroutines or
// hands the socket to a set of worker processes, and manages the
// lifecycle of the whole (start, graceful stop, zero-downtime restart,
// log reopening).
//
// A server is described by a ServerConfig, built with a Builder or
// loaded from a YAML file by LoadConfig.  A Supervisor starts it:
//
//	cfg, err := appvisor.NewBuilder().Bind("tcp://127.0.0.1:9292").Build()
//	s := appvisor.New()
//	h, err := s.Start(cfg)
//	...
//	err = s.Run(ctx, h)
//
// With workers set to zero the server runs in the supervising process.
// Otherwise each worker is a re-execution of the current binary, handed
// the listener as descriptor 3, which checks in with the supervisor
// periodically and is replaced if it dies or stops checking in.
//
// Restart launches a successor process holding the same socket and
// waits for it to report ready before this process drains and exits,
// so no connection is refused during the switch.  Handlers registered
// with OnRestart edit the successor's environment first.
//
// The rest sub-package serves a small HTTP control API over a running
// Supervisor, and a client for it.
package appvisor
