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

// Command appvisorctl controls a running appvisord through its control
// API.
//
// The flags are
//
//	--control <url>   control address, tcp://host:port or unix://path
//	--token <token>   control token
//	--config <file>   take the control address from a server configuration
//
// Subcommands are
//
//	status        - show the lifecycle state
//	stats         - show full statistics
//	restart       - restart the server with zero downtime
//	stop          - stop the server gracefully
//	reopen-logs   - reopen redirected log files
//	log [-f]      - print (or follow) the supervisor log
//	top           - full screen view of the server and its workers
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/appvisor/appvisor"
	"github.com/appvisor/appvisor/appvisorctl/ui"
	"github.com/appvisor/appvisor/rest"
)

const defaultControl = "tcp://127.0.0.1:9293"

var (
	control    string
	token      string
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "appvisorctl",
	Short:         "Control a running appvisord",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// client resolves the control address from the flags, the environment
// or a server configuration, in that order.
func client() (*rest.Client, error) {
	addr, tok := control, token
	if addr == "" {
		addr = os.Getenv(appvisor.EnvPrefix + "_CONTROL_URL")
	}
	if tok == "" {
		tok = os.Getenv(appvisor.EnvPrefix + "_CONTROL_TOKEN")
	}
	if addr == "" && configPath != "" {
		cfg, err := appvisor.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		addr = cfg.Control.URL
		if ep, err := appvisor.ParseBind(addr); err == nil && ep.Network == "unix" {
			ep.Address = cfg.Path(ep.Address)
			addr = ep.String()
		}
		if tok == "" && !strings.HasPrefix(cfg.Control.Token, "$2") {
			tok = cfg.Control.Token
		}
	}
	if addr == "" {
		addr = defaultControl
	}
	return rest.NewClient(addr, tok)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lifecycle state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		d := time.Since(st.StartedAt)
		d -= d % time.Second
		cmd.Printf("%-10s pid %-8d %-8s %s up %s\n",
			st.State, st.Pid, st.Mode, st.Address, ui.FormatDuration(d))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show full statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		defer cancel()
		st, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(st)
	},
}

// action returns a command posting one control request.
func action(use, short string, fn func(*rest.Client, context.Context) error, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := fn(c, ctx); err != nil {
				return err
			}
			cmd.Println(done)
			return nil
		},
	}
}

var follow bool

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the supervisor log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext()
		info, err := c.GetLog(ctx)
		cancel()
		if err != nil {
			return err
		}
		var last int64
		show := func(info *rest.LogInfo) {
			for _, r := range info.Records {
				if r.Id <= last {
					continue
				}
				last = r.Id
				cmd.Printf("%s %-5s %s\n", r.Time.Format(time.StampMilli), strings.ToUpper(r.Level), r.Text)
			}
		}
		show(info)
		for follow {
			next, err := c.WatchLog(context.Background(), info, rest.MaxPollTime)
			if err != nil {
				return err
			}
			if next != info {
				show(next)
				info = next
			}
		}
		return nil
	},
}

var interval time.Duration

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Full screen view of the server and its workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		// The screen is ours; keep diagnostics off it.
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.ErrorLevel)
		name := control
		if name == "" {
			name = "appvisord"
		}
		return ui.NewApp(c, name, logger).Run(interval)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&control, "control", "", "control address (tcp://host:port or unix://path)")
	pf.StringVar(&token, "token", "", "control token")
	pf.StringVarP(&configPath, "config", "c", "", "read the control address from this server configuration")
	pf.DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	logCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	topCmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval")

	rootCmd.AddCommand(statusCmd, statsCmd, logCmd, topCmd,
		action("restart", "Restart the server with zero downtime", (*rest.Client).Restart, "restart requested"),
		action("stop", "Stop the server gracefully", (*rest.Client).Stop, "stop requested"),
		action("reopen-logs", "Reopen redirected log files", (*rest.Client).ReopenLogs, "log files reopened"),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "appvisorctl: %v\n", err)
		os.Exit(1)
	}
}
