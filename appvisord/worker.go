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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/appvisor/appvisor"
)

var workerIndex int

// workerCmd is what the supervisor runs for each worker process.  The
// listener arrives as descriptor 3, the check-in pipe as descriptor 4,
// and the configuration on standard input.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a worker process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appvisor.ReadWorkerConfig(os.Stdin)
		if err != nil {
			return err
		}
		log := appvisor.NewLogger(cfg.Environment, os.Stderr)

		ln, err := appvisor.ListenerFromFile(os.NewFile(3, "listener"), cfg.Endpoint(), false)
		if err != nil {
			return err
		}
		status := os.NewFile(4, "status")
		defer status.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return appvisor.RunWorker(ctx, cfg, workerIndex, ln, status, log)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerIndex, "index", 0, "worker index")
}
