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
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment selects the runtime profile.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvTest        Environment = "test"
)

// Valid reports whether the environment is one of the known profiles.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvStaging, EnvTest:
		return true
	}
	return false
}

// Threads bounds the per-process thread pool.
type Threads struct {
	Min int `mapstructure:"min" yaml:"min"`
	Max int `mapstructure:"max" yaml:"max"`
}

// Redirect names the files standard output and standard error are sent to.
// With Append false, existing content is truncated when the file is first
// opened.
type Redirect struct {
	Stdout string `mapstructure:"stdout" yaml:"stdout,omitempty"`
	Stderr string `mapstructure:"stderr" yaml:"stderr,omitempty"`
	Append bool   `mapstructure:"append" yaml:"append"`
}

// ControlConfig configures the control API.  Token may be plain text, or
// a bcrypt hash.
type ControlConfig struct {
	URL   string `mapstructure:"url" yaml:"url,omitempty"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

// ServerConfig is the complete, immutable description of a server
// process.  Once returned by Build or LoadConfig it must not be modified;
// a restart constructs a fresh one.
//
// Relative paths are resolved against Directory.
type ServerConfig struct {
	Directory      string        `mapstructure:"directory" yaml:"directory"`
	Entrypoint     string        `mapstructure:"entrypoint" yaml:"entrypoint"`
	Environment    Environment   `mapstructure:"environment" yaml:"environment"`
	Tag            string        `mapstructure:"tag" yaml:"tag,omitempty"`
	PidFile        string        `mapstructure:"pidfile" yaml:"pidfile,omitempty"`
	StatePath      string        `mapstructure:"state_path" yaml:"state_path,omitempty"`
	StdoutRedirect Redirect      `mapstructure:"stdout_redirect" yaml:"stdout_redirect"`
	Threads        Threads       `mapstructure:"threads" yaml:"threads"`
	Bind           string        `mapstructure:"bind" yaml:"bind"`
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	PruneEnv       bool          `mapstructure:"prune_env" yaml:"prune_env"`
	KeepEnv        []string      `mapstructure:"keep_env" yaml:"keep_env,omitempty"`
	Control        ControlConfig `mapstructure:"control" yaml:"control"`

	WorkerTimeout         time.Duration `mapstructure:"worker_timeout" yaml:"worker_timeout"`
	WorkerBootTimeout     time.Duration `mapstructure:"worker_boot_timeout" yaml:"worker_boot_timeout"`
	WorkerShutdownTimeout time.Duration `mapstructure:"worker_shutdown_timeout" yaml:"worker_shutdown_timeout"`
	WorkerRestartLimit    int           `mapstructure:"worker_restart_limit" yaml:"worker_restart_limit"`
	WorkerRestartPeriod   time.Duration `mapstructure:"worker_restart_period" yaml:"worker_restart_period"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RestartTimeout        time.Duration `mapstructure:"restart_timeout" yaml:"restart_timeout"`
	IdleThreadTimeout     time.Duration `mapstructure:"idle_thread_timeout" yaml:"idle_thread_timeout"`
}

// DefaultConfig returns the configuration used for any option that is
// not explicitly set.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Directory:             ".",
		Entrypoint:            "app.yaml",
		Environment:           EnvDevelopment,
		Threads:               Threads{Min: 0, Max: 5},
		Bind:                  "tcp://0.0.0.0:9292",
		WorkerTimeout:         60 * time.Second,
		WorkerBootTimeout:     60 * time.Second,
		WorkerShutdownTimeout: 30 * time.Second,
		WorkerRestartLimit:    10,
		WorkerRestartPeriod:   time.Minute,
		ShutdownTimeout:       30 * time.Second,
		RestartTimeout:        30 * time.Second,
		IdleThreadTimeout:     10 * time.Second,
	}
}

// Path resolves p against the configured working directory.  Empty
// paths stay empty.
func (c *ServerConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Directory, p)
}

// Endpoint returns the parsed bind address.  The config must be valid.
func (c *ServerConfig) Endpoint() Endpoint {
	ep, _ := ParseBind(c.Bind)
	if ep.Network == "unix" {
		ep.Address = c.Path(ep.Address)
	}
	return ep
}

// Clone returns a deep copy.
func (c *ServerConfig) Clone() *ServerConfig {
	n := *c
	n.KeepEnv = append([]string(nil), c.KeepEnv...)
	return &n
}

// Validate checks every option.  Range and syntax problems are reported
// as ConfigError before any file system checks, which are reported as
// PathError.
func (c *ServerConfig) Validate() error {
	if err := c.validateOptions(); err != nil {
		return err
	}
	return c.validatePaths()
}

func (c *ServerConfig) validateOptions() error {
	if !c.Environment.Valid() {
		return &ConfigError{"environment", "unknown profile " + string(c.Environment)}
	}
	if c.Threads.Min < 0 {
		return &ConfigError{"threads", "minimum must not be negative"}
	}
	if c.Threads.Max < 1 {
		return &ConfigError{"threads", "maximum must be at least 1"}
	}
	if c.Threads.Min > c.Threads.Max {
		return &ConfigError{"threads", "minimum exceeds maximum"}
	}
	if c.Workers < 0 {
		return &ConfigError{"workers", "must not be negative"}
	}
	if c.Entrypoint == "" {
		return &ConfigError{"entrypoint", "required"}
	}
	if _, err := ParseBind(c.Bind); err != nil {
		return err
	}
	if c.Control.URL != "" {
		if _, err := ParseBind(c.Control.URL); err != nil {
			return &ConfigError{"control.url", err.Error()}
		}
	}
	if c.WorkerRestartLimit < 0 {
		return &ConfigError{"worker_restart_limit", "must not be negative"}
	}
	for name, d := range map[string]time.Duration{
		"worker_timeout":          c.WorkerTimeout,
		"worker_boot_timeout":     c.WorkerBootTimeout,
		"worker_shutdown_timeout": c.WorkerShutdownTimeout,
		"worker_restart_period":   c.WorkerRestartPeriod,
		"shutdown_timeout":        c.ShutdownTimeout,
		"restart_timeout":         c.RestartTimeout,
		"idle_thread_timeout":     c.IdleThreadTimeout,
	} {
		if d < 0 {
			return &ConfigError{name, "must not be negative"}
		}
	}
	for _, pat := range c.KeepEnv {
		if _, err := filepath.Match(pat, ""); err != nil {
			return &ConfigError{"keep_env", "bad pattern " + pat}
		}
	}
	return nil
}

func (c *ServerConfig) validatePaths() error {
	if err := checkDir("directory", c.Directory, false); err != nil {
		return err
	}
	entry := c.Path(c.Entrypoint)
	if st, err := os.Stat(entry); err != nil {
		return &PathError{"entrypoint", entry, err}
	} else if st.IsDir() {
		return &PathError{"entrypoint", entry, errors.New("is a directory")}
	}
	files := []struct{ opt, path string }{
		{"pidfile", c.PidFile},
		{"state_path", c.StatePath},
		{"stdout_redirect.stdout", c.StdoutRedirect.Stdout},
		{"stdout_redirect.stderr", c.StdoutRedirect.Stderr},
	}
	if ep := c.Endpoint(); ep.Network == "unix" {
		files = append(files, struct{ opt, path string }{"bind", ep.Address})
	}
	if c.Control.URL != "" {
		if ep, _ := ParseBind(c.Control.URL); ep.Network == "unix" {
			files = append(files, struct{ opt, path string }{"control.url", c.Path(ep.Address)})
		}
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if err := checkDir(f.opt, filepath.Dir(c.Path(f.path)), true); err != nil {
			return err
		}
	}
	return nil
}

func checkDir(opt, dir string, writable bool) error {
	st, err := os.Stat(dir)
	if err != nil {
		return &PathError{opt, dir, err}
	}
	if !st.IsDir() {
		return &PathError{opt, dir, errors.New("not a directory")}
	}
	if err := accessDir(dir, writable); err != nil {
		return &PathError{opt, dir, err}
	}
	return nil
}

// Builder assembles a ServerConfig one option at a time, in the same
// vocabulary as the configuration file.  Nothing is checked until Build.
type Builder struct {
	cfg ServerConfig
}

// NewBuilder returns a Builder seeded with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) Directory(dir string) *Builder {
	b.cfg.Directory = dir
	return b
}

func (b *Builder) Entrypoint(path string) *Builder {
	b.cfg.Entrypoint = path
	return b
}

func (b *Builder) Environment(env Environment) *Builder {
	b.cfg.Environment = env
	return b
}

func (b *Builder) Tag(tag string) *Builder {
	b.cfg.Tag = tag
	return b
}

func (b *Builder) PidFile(path string) *Builder {
	b.cfg.PidFile = path
	return b
}

func (b *Builder) StatePath(path string) *Builder {
	b.cfg.StatePath = path
	return b
}

func (b *Builder) StdoutRedirect(stdout, stderr string, append bool) *Builder {
	b.cfg.StdoutRedirect = Redirect{Stdout: stdout, Stderr: stderr, Append: append}
	return b
}

func (b *Builder) Threads(min, max int) *Builder {
	b.cfg.Threads = Threads{Min: min, Max: max}
	return b
}

func (b *Builder) Bind(uri string) *Builder {
	b.cfg.Bind = uri
	return b
}

func (b *Builder) Workers(n int) *Builder {
	b.cfg.Workers = n
	return b
}

// PruneEnv launches workers with a minimal environment, keeping only
// the baseline variables and those matching the keep patterns.
func (b *Builder) PruneEnv(keep ...string) *Builder {
	b.cfg.PruneEnv = true
	b.cfg.KeepEnv = append(b.cfg.KeepEnv, keep...)
	return b
}

func (b *Builder) Control(url, token string) *Builder {
	b.cfg.Control = ControlConfig{URL: url, Token: token}
	return b
}

func (b *Builder) ShutdownTimeout(d time.Duration) *Builder {
	b.cfg.ShutdownTimeout = d
	return b
}

func (b *Builder) RestartTimeout(d time.Duration) *Builder {
	b.cfg.RestartTimeout = d
	return b
}

func (b *Builder) WorkerTimeout(d time.Duration) *Builder {
	b.cfg.WorkerTimeout = d
	return b
}

// Build validates the accumulated options and returns the finished
// configuration.
func (b *Builder) Build() (*ServerConfig, error) {
	c := b.cfg.Clone()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// modeName is used in logs and snapshots.
func (c *ServerConfig) modeName() string {
	if c.Workers == 0 {
		return "single"
	}
	return "cluster"
}

func (c *ServerConfig) title() string {
	t := "appvisord"
	if tag := strings.TrimSpace(c.Tag); tag != "" {
		t += " [" + tag + "]"
	}
	return t
}
