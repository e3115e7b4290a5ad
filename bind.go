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
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Endpoint is a parsed bind address.
type Endpoint struct {
	Network string // "tcp" or "unix"
	Address string // host:port, or socket path
}

// String returns the endpoint in URI form.
func (ep Endpoint) String() string {
	return ep.Network + "://" + ep.Address
}

// ParseBind parses a tcp:// or unix:// URI.
func ParseBind(uri string) (Endpoint, error) {
	if uri == "" {
		return Endpoint{}, &ConfigError{"bind", "required"}
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, &ConfigError{"bind", err.Error()}
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return Endpoint{}, &ConfigError{"bind", "missing host:port in " + uri}
		}
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return Endpoint{}, &ConfigError{"bind", err.Error()}
		}
		return Endpoint{Network: "tcp", Address: u.Host}, nil
	case "unix":
		// unix:///abs/path parses with an empty host; unix://rel/path
		// puts the first element in the host.
		p := u.Host + u.Path
		if p == "" {
			return Endpoint{}, &ConfigError{"bind", "missing socket path in " + uri}
		}
		return Endpoint{Network: "unix", Address: p}, nil
	}
	return Endpoint{}, &ConfigError{"bind", "unsupported scheme " + strings.TrimSuffix(u.Scheme, ":")}
}

// Listen binds the endpoint.  For unix sockets, a leftover socket file
// that nobody is accepting on is removed first; one that is still live
// is reported as in use.
func Listen(ep Endpoint) (net.Listener, error) {
	if ep.Network == "unix" {
		if err := clearStaleSocket(ep.Address); err != nil {
			return nil, err
		}
	}
	l, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return nil, &BindError{ep.String(), unwrapOpError(err)}
	}
	return l, nil
}

func clearStaleSocket(path string) error {
	st, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if st.Mode()&os.ModeSocket == 0 {
		return &BindError{"unix://" + path, errors.New("path exists and is not a socket")}
	}
	c, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		c.Close()
		return &BindError{"unix://" + path, syscall.EADDRINUSE}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &BindError{"unix://" + path, err}
	}
	return nil
}

func unwrapOpError(err error) error {
	var oe *net.OpError
	if errors.As(err, &oe) {
		var se *os.SyscallError
		if errors.As(oe.Err, &se) {
			return se.Err
		}
		return oe.Err
	}
	return err
}

// ListenerFromFile rebuilds a listener from an inherited descriptor.  An
// owner removes a unix socket file when it closes the listener; workers
// sharing the socket are not owners.
func ListenerFromFile(f *os.File, ep Endpoint, owner bool) (net.Listener, error) {
	l, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, &BindError{ep.String(), err}
	}
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(owner)
	}
	return l, nil
}

// listenerFile duplicates the listener's descriptor so it can be passed
// to a child process.  The File methods of the net listeners mark their
// result so that Fd, which exec calls, switches the shared file
// description to blocking mode, stalling Accept and Close in this
// process.  A plain dup wrapped by os.NewFile is left non-blocking.
func listenerFile(l net.Listener) (*os.File, error) {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return nil, errors.New("listener cannot be shared")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	var derr error
	if err := rc.Control(func(s uintptr) {
		fd, derr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if derr != nil {
		return nil, os.NewSyscallError("dup", derr)
	}
	return os.NewFile(uintptr(fd), "listener"), nil
}

// keepSocket stops a unix listener from removing its socket file when
// closed, so that a successor holding the same socket keeps it.
func keepSocket(l net.Listener) {
	if ul, ok := l.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
}
