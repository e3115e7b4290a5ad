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
	"github.com/spf13/cobra"

	"github.com/appvisor/appvisor"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := appvisor.LoadConfig(path)
		if err != nil {
			return err
		}
		if _, err := appvisor.ReadDescriptor(cfg.Path(cfg.Entrypoint)); err != nil {
			return &appvisor.ConfigError{Option: "entrypoint", Reason: err.Error()}
		}
		cmd.Printf("%s: ok\n", path)
		cmd.Printf("  directory   %s\n", cfg.Directory)
		cmd.Printf("  environment %s\n", cfg.Environment)
		cmd.Printf("  bind        %s\n", cfg.Bind)
		cmd.Printf("  threads     %d:%d\n", cfg.Threads.Min, cfg.Threads.Max)
		cmd.Printf("  workers     %d\n", cfg.Workers)
		return nil
	},
}

func init() {
	checkCmd.Flags().StringP("config", "c", "appvisor.yaml", "configuration file")
}
