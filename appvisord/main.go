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

// Command appvisord runs a supervised server.
//
// Subcommands are
//
//	run      - start the server described by a configuration file
//	check    - validate a configuration file and exit
//	version  - print the version
//
// The worker subcommand is hidden; the supervisor uses it to start
// worker processes.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/appvisor/appvisor"
)

var rootCmd = &cobra.Command{
	Use:   "appvisord",
	Short: "Application server supervisor",
	Long: `appvisord binds a listening socket and serves an application on it,
either from a pool of threads or from a set of worker processes, with
graceful stop, zero-downtime restart and log file reopening.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("appvisord " + appvisor.Version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, checkCmd, workerCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("appvisord failed")
		os.Exit(1)
	}
}
