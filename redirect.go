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
	"os"
	"path/filepath"
	"sync"
)

// Redirector owns the files standard output and standard error are sent
// to.  When both names refer to the same file, a single append-mode
// handle is shared so that lines from both streams interleave rather
// than overwrite each other.
type Redirector struct {
	cfg       Redirect
	stdout    *os.File
	stderr    *os.File
	installed bool
	mx        sync.Mutex
}

// OpenRedirect opens the configured files.  Files are truncated only
// when Append is false and this is not a continuing process (a restart
// successor), so truncation happens once, at first open.
func OpenRedirect(r Redirect, continuing bool) (*Redirector, error) {
	rd := &Redirector{cfg: r}
	trunc := !r.Append && !continuing
	if err := rd.open(trunc); err != nil {
		return nil, err
	}
	return rd, nil
}

func openLog(opt, path string, trunc bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if trunc {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, &PathError{opt, path, err}
	}
	return f, nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}

func (rd *Redirector) open(trunc bool) error {
	var out, errf *os.File
	var err error
	if rd.cfg.Stdout != "" {
		if out, err = openLog("stdout_redirect.stdout", rd.cfg.Stdout, trunc); err != nil {
			return err
		}
	}
	if samePath(rd.cfg.Stdout, rd.cfg.Stderr) {
		errf = out
	} else if rd.cfg.Stderr != "" {
		if errf, err = openLog("stdout_redirect.stderr", rd.cfg.Stderr, trunc); err != nil {
			if out != nil {
				out.Close()
			}
			return err
		}
	}
	rd.stdout, rd.stderr = out, errf
	return nil
}

// Stdout returns the stdout log file, or os.Stdout when not redirected.
func (rd *Redirector) Stdout() *os.File {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	if rd.stdout == nil {
		return os.Stdout
	}
	return rd.stdout
}

// Stderr returns the stderr log file, or os.Stderr when not redirected.
func (rd *Redirector) Stderr() *os.File {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	if rd.stderr == nil {
		return os.Stderr
	}
	return rd.stderr
}

// Shared reports whether both streams go to one handle.
func (rd *Redirector) Shared() bool {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	return rd.stdout != nil && rd.stdout == rd.stderr
}

// Install points the process's own descriptors 1 and 2 at the log files,
// so that anything written to them, including by child processes
// inheriting them, lands in the logs.
func (rd *Redirector) Install() error {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	if err := rd.install(); err != nil {
		return err
	}
	rd.installed = true
	return nil
}

func (rd *Redirector) install() error {
	if rd.stdout != nil {
		if err := dupOnto(rd.stdout, 1); err != nil {
			return &PathError{"stdout_redirect.stdout", rd.cfg.Stdout, err}
		}
	}
	if rd.stderr != nil {
		if err := dupOnto(rd.stderr, 2); err != nil {
			return &PathError{"stdout_redirect.stderr", rd.cfg.Stderr, err}
		}
	}
	return nil
}

// Reopen closes and reopens the log files in append mode, for use after
// the files have been rotated away.
func (rd *Redirector) Reopen() error {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	oldOut, oldErr := rd.stdout, rd.stderr
	if err := rd.open(false); err != nil {
		rd.stdout, rd.stderr = oldOut, oldErr
		return err
	}
	if rd.installed {
		if err := rd.install(); err != nil {
			return err
		}
	}
	closeFiles(oldOut, oldErr)
	return nil
}

// Close releases the handles.  Installed descriptors 1 and 2 stay valid.
func (rd *Redirector) Close() error {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	closeFiles(rd.stdout, rd.stderr)
	rd.stdout, rd.stderr = nil, nil
	return nil
}

func closeFiles(a, b *os.File) {
	if a != nil {
		a.Close()
	}
	if b != nil && b != a {
		b.Close()
	}
}
