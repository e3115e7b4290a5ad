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

//go:build unix && !linux

package appvisor

import (
	"os"

	"golang.org/x/sys/unix"
)

func accessDir(dir string, writable bool) error {
	mode := uint32(unix.R_OK | unix.X_OK)
	if writable {
		mode |= unix.W_OK
	}
	return unix.Access(dir, mode)
}

// dupOnto makes fd refer to the same open file as f.
func dupOnto(f *os.File, fd int) error {
	return unix.Dup2(int(f.Fd()), fd)
}

// setProcessTitle is only supported on Linux.
func setProcessTitle(title string) error {
	return nil
}
