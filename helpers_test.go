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
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// testLogger sends log output to the test log.
func testLogger(t *testing.T) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&testLog{t})
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	return l
}

// testDir returns a directory holding a static site entrypoint.
func testDir(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.yaml"), "kind: static\nroot: public\n")
	os.Mkdir(filepath.Join(dir, "public"), 0755)
	writeFile(t, filepath.Join(dir, "public", "index.html"), "hello\n")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(path string) string {
	b, _ := os.ReadFile(path)
	return string(b)
}

// testConfig is a valid single mode configuration on a loopback port
// chosen by the kernel.
func testConfig(t *testing.T) *ServerConfig {
	cfg, err := NewBuilder().
		Directory(testDir(t)).
		Environment(EnvTest).
		Bind("tcp://127.0.0.1:0").
		Threads(0, 4).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// waitFor polls cond until it holds or d passes.
func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
