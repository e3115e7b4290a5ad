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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// ListenFDFlag names the inherited listener descriptor.
	ListenFDFlag = "--listen-fd"
	// ReadyFDFlag names the pipe a successor reports readiness on.
	ReadyFDFlag = "--ready-fd"

	readyMessage = "ready"
)

// Variables kept when an environment is pruned, in addition to the
// patterns the configuration asks for.
var baselineEnv = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL", "LANG", "LC_*", "TZ",
	"TMPDIR", "TERM", EnvPrefix + "_*",
}

// LaunchContext describes how to start a fresh copy of this program:
// the executable, its arguments, working directory and environment.
// Restart handlers receive the context and edit it, so that clearing
// cached state for the successor never touches this process's own
// environment.
type LaunchContext struct {
	Path   string
	Args   []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	env    map[string]string
}

// CaptureLaunchContext records the current executable, arguments,
// directory and environment.  Call it early, before anything changes
// them.
func CaptureLaunchContext() *LaunchContext {
	path, err := os.Executable()
	if err != nil {
		path = os.Args[0]
	}
	dir, _ := os.Getwd()
	lc := &LaunchContext{
		Path:   path,
		Args:   append([]string(nil), os.Args...),
		Dir:    dir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		env:    make(map[string]string),
	}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			lc.env[kv[:i]] = kv[i+1:]
		}
	}
	return lc
}

// NewLaunchContext returns a context for an arbitrary command with an
// empty environment.
func NewLaunchContext(path string, args ...string) *LaunchContext {
	return &LaunchContext{
		Path:   path,
		Args:   append([]string{path}, args...),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		env:    make(map[string]string),
	}
}

func (lc *LaunchContext) Getenv(key string) string {
	return lc.env[key]
}

func (lc *LaunchContext) Setenv(key, value string) {
	lc.env[key] = value
}

func (lc *LaunchContext) Unsetenv(key string) {
	delete(lc.env, key)
}

// Environ returns the environment in KEY=value form, sorted by key.
func (lc *LaunchContext) Environ() []string {
	keys := make([]string, 0, len(lc.env))
	for k := range lc.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rv := make([]string, 0, len(keys))
	for _, k := range keys {
		rv = append(rv, k+"="+lc.env[k])
	}
	return rv
}

// Prune removes every variable that is neither in the baseline set nor
// matched by one of the keep patterns.
func (lc *LaunchContext) Prune(keep []string) {
	pats := append(append([]string(nil), baselineEnv...), keep...)
	for k := range lc.env {
		if !matchAny(pats, k) {
			delete(lc.env, k)
		}
	}
}

func matchAny(pats []string, name string) bool {
	for _, p := range pats {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (lc *LaunchContext) Clone() *LaunchContext {
	n := *lc
	n.Args = append([]string(nil), lc.Args...)
	n.env = make(map[string]string, len(lc.env))
	for k, v := range lc.env {
		n.env[k] = v
	}
	return &n
}

// Command builds the exec.Cmd.  files become descriptors 3, 4, ... in the
// child.
func (lc *LaunchContext) Command(files ...*os.File) *exec.Cmd {
	cmd := &exec.Cmd{
		Path:       lc.Path,
		Args:       append([]string(nil), lc.Args...),
		Dir:        lc.Dir,
		Env:        lc.Environ(),
		Stdout:     lc.Stdout,
		Stderr:     lc.Stderr,
		ExtraFiles: files,
	}
	if len(cmd.Args) == 0 {
		cmd.Args = []string{lc.Path}
	}
	return cmd
}

// withFDArgs drops earlier descriptor flags (both "--flag N" and
// "--flag=N" forms) and appends fresh ones.
func withFDArgs(args []string, listenFD, readyFD int) []string {
	rv := make([]string, 0, len(args)+4)
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == ListenFDFlag || a == ReadyFDFlag {
			i++
			continue
		}
		if strings.HasPrefix(a, ListenFDFlag+"=") || strings.HasPrefix(a, ReadyFDFlag+"=") {
			continue
		}
		rv = append(rv, a)
	}
	return append(rv,
		ListenFDFlag, strconv.Itoa(listenFD),
		ReadyFDFlag, strconv.Itoa(readyFD))
}

// Handover starts a successor holding ln as descriptor 3 and a readiness
// pipe as descriptor 4, and waits for it to report ready.  If the
// successor exits first, or timeout passes, it is reaped and an error
// returned; the caller keeps running.  On success the successor's pid is
// returned and the caller is expected to drain and exit.
func (lc *LaunchContext) Handover(ln *os.File, timeout time.Duration, log logrus.FieldLogger) (int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	cmd := lc.Command(ln, w)
	cmd.Args = withFDArgs(cmd.Args, 3, 4)

	log.Infof("Starting new instance of executable (args: %q)", cmd.Args)
	if err := cmd.Start(); err != nil {
		w.Close()
		return 0, err
	}
	w.Close()
	pid := cmd.Process.Pid

	ready := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err == nil && strings.TrimSpace(line) == readyMessage {
			ready <- nil
			return
		}
		ready <- errors.New("successor closed readiness pipe without reporting ready")
	}()
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err == nil {
			log.Infof("New instance %d is ready", pid)
			return pid, nil
		}
		select {
		case werr := <-exited:
			return 0, exitError(pid, werr)
		case <-timer.C:
		}
	case werr := <-exited:
		return 0, exitError(pid, werr)
	case <-timer.C:
	}
	cmd.Process.Kill()
	<-exited
	return 0, fmt.Errorf("new instance %d not ready after %v", pid, timeout)
}

func exitError(pid int, err error) error {
	if err == nil {
		return fmt.Errorf("new instance %d exited before becoming ready", pid)
	}
	return fmt.Errorf("new instance %d failed: %w", pid, err)
}

// ReportReady tells the predecessor that this process is serving.
func ReportReady(f *os.File) error {
	_, err := f.WriteString(readyMessage + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
