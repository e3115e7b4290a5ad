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
	"os"
	"os/signal"
	"syscall"
)

// Run services h until it stops, translating process signals into
// lifecycle operations:
//
//	SIGUSR2          restart
//	SIGHUP           reopen redirected log files
//	SIGTERM, SIGINT  graceful stop
//
// Cancelling ctx also stops h.  Run returns the error of the stop that
// ended the instance, or nil.
func (s *Supervisor) Run(ctx context.Context, h *Handle) error {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGUSR2, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	stopped := make(chan error, 1)
	requested := false
	stop := func() {
		if requested {
			return
		}
		requested = true
		go func() {
			stopped <- s.Stop(h, 0)
		}()
	}

	cancelled := ctx.Done()
	for {
		select {
		case <-h.Done():
			if requested {
				return <-stopped
			}
			return nil
		case <-cancelled:
			cancelled = nil
			stop()
		case sig := <-sigs:
			s.log.Infof("Received %v", sig)
			switch sig {
			case syscall.SIGUSR2:
				go s.Restart()
			case syscall.SIGHUP:
				s.ReopenLogs()
			default:
				stop()
			}
		}
	}
}
