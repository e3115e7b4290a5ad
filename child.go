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
	"encoding/json"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ReadWorkerConfig decodes the configuration a master writes to a
// worker's standard input.
func ReadWorkerConfig(r io.Reader) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, &ConfigError{"worker", err.Error()}
	}
	if err := cfg.validateOptions(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RunWorker is the body of a worker process.  It loads the application,
// serves ln, and writes a check-in to status every
// WorkerCheckinInterval.  When ctx ends, or the master stops reading
// check-ins, it drains for up to WorkerShutdownTimeout.
func RunWorker(ctx context.Context, cfg *ServerConfig, index int, ln net.Listener, status io.Writer, log logrus.FieldLogger) error {
	log = log.WithField("worker", index)
	app, err := LoadApplication(cfg, log)
	if err != nil {
		return err
	}
	srv := NewServer(ln, app, cfg, log)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve()
	}()

	enc := json.NewEncoder(status)
	checkin := func() error {
		return enc.Encode(&WorkerCheckin{Pid: os.Getpid(), Time: time.Now(), Pool: srv.Stats()})
	}

	t := time.NewTicker(WorkerCheckinInterval)
	defer t.Stop()
	err = checkin()
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			continue
		case err = <-errc:
			if err == nil {
				return nil
			}
			return err
		case <-t.C:
			if err = checkin(); err != nil {
				log.WithError(err).Warn("Master is gone")
			}
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.WorkerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("Shutdown was not clean")
		return err
	}
	return nil
}
