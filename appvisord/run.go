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

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/appvisor/appvisor"
	"github.com/appvisor/appvisor/rest"
)

var (
	configPath string
	listenFD   int
	readyFD    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Long: `Starts the server described by the configuration file and supervises it
until it is stopped.  SIGUSR2 restarts, SIGHUP reopens log files, and
SIGTERM or SIGINT stop gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "appvisor.yaml", "configuration file")
	f.IntVar(&listenFD, strings.TrimPrefix(appvisor.ListenFDFlag, "--"), 0, "inherited listener descriptor")
	f.IntVar(&readyFD, strings.TrimPrefix(appvisor.ReadyFDFlag, "--"), 0, "descriptor to report readiness on")
	f.MarkHidden(strings.TrimPrefix(appvisor.ListenFDFlag, "--"))
	f.MarkHidden(strings.TrimPrefix(appvisor.ReadyFDFlag, "--"))
}

func run(path string) error {
	cfg, err := appvisor.LoadConfig(path)
	if err != nil {
		return err
	}

	var opts []appvisor.Option
	if listenFD > 0 {
		var ready *os.File
		if readyFD > 0 {
			ready = os.NewFile(uintptr(readyFD), "ready")
		}
		opts = append(opts, appvisor.WithInherited(os.NewFile(uintptr(listenFD), "listener"), ready))
	}
	// The launch context is captured here, before changing directory,
	// so that a successor resolves the configuration path the same way.
	s := appvisor.New(opts...)
	if dir, err := filepath.Abs(cfg.Directory); err == nil {
		cfg.Directory = dir
	}
	if err := os.Chdir(cfg.Directory); err != nil {
		return &appvisor.PathError{Option: "directory", Path: cfg.Directory, Err: err}
	}

	h, err := s.Start(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Control.URL != "" {
		go serveControl(ctx, s, h.Config())
	}
	return s.Run(context.Background(), h)
}

// serveControl serves the control API, retrying while the address is
// still held, as it is by a predecessor that has not finished draining.
func serveControl(ctx context.Context, s *appvisor.Supervisor, cfg *appvisor.ServerConfig) {
	log := s.Logger().WithField("component", "control")
	addr := controlAddress(cfg)
	h := rest.NewHandler(s, cfg.Control.Token, log)
	for {
		err := rest.ListenAndServe(ctx, addr, h, log)
		if err == nil || ctx.Err() != nil {
			return
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			log.WithError(err).Error("Control API failed")
			return
		}
		log.Debug("Control address in use; retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// controlAddress resolves a relative unix socket path against the
// server directory.
func controlAddress(cfg *appvisor.ServerConfig) string {
	ep, err := appvisor.ParseBind(cfg.Control.URL)
	if err != nil || ep.Network != "unix" {
		return cfg.Control.URL
	}
	ep.Address = cfg.Path(ep.Address)
	return ep.String()
}
