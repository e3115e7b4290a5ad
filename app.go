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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Application is what the server hands each accepted connection to.  It
// owns the connection and must close it before returning.  ctx is
// canceled when the server starts draining: the application should
// finish what is in flight and close.  Connections still open when the
// drain deadline passes are closed under it.
type Application interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerApp serves HTTP on each connection using an http.Handler.  A
// connection occupies its thread until the client closes it or the
// keep-alive ends.
type HandlerApp struct {
	Handler           http.Handler
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ErrorLog          *log.Logger
}

func (a *HandlerApp) ServeConn(ctx context.Context, conn net.Conn) {
	l := newConnListener(conn)
	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: a.ReadHeaderTimeout,
		IdleTimeout:       a.IdleTimeout,
		ErrorLog:          a.ErrorLog,
	}
	if ctx.Err() != nil {
		// Queued before draining began: answer one request, then close.
		srv.SetKeepAlivesEnabled(false)
	} else {
		stop := context.AfterFunc(ctx, func() {
			srv.Shutdown(context.Background())
		})
		defer stop()
	}
	srv.Serve(l)
	if !l.take() {
		// Shut down before the connection was served.
		conn.Close()
		l.release()
	}
	<-l.closed
}

// connListener yields one connection, then blocks until that connection
// is closed, so that http.Server.Serve returns once the conversation is
// over.
type connListener struct {
	conn   net.Conn
	once   sync.Once
	taken  bool
	closed chan struct{}
	mx     sync.Mutex
}

type trackedConn struct {
	net.Conn
	l *connListener
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.l.release()
	return err
}

func (l *connListener) release() {
	l.once.Do(func() { close(l.closed) })
}

func newConnListener(c net.Conn) *connListener {
	return &connListener{conn: c, closed: make(chan struct{})}
}

// take marks the connection handed out, and reports whether it already
// was.
func (l *connListener) take() bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	taken := l.taken
	l.taken = true
	return taken
}

func (l *connListener) Accept() (net.Conn, error) {
	if !l.take() {
		return &trackedConn{Conn: l.conn, l: l}, nil
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *connListener) Close() error {
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Descriptor is the application entrypoint file: a small YAML document
// naming the kind of application and its parameters.
type Descriptor struct {
	Kind     string            `yaml:"kind"`
	Root     string            `yaml:"root,omitempty"`
	Upstream string            `yaml:"upstream,omitempty"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// ReadDescriptor parses an entrypoint file.
func ReadDescriptor(path string) (*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{}
	if err := yaml.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.Kind == "" {
		return nil, fmt.Errorf("%s: missing kind", path)
	}
	return d, nil
}

// Loader builds an Application from a descriptor.  dir is the working
// directory relative paths in the descriptor refer to.
type Loader func(dir string, d *Descriptor, log logrus.FieldLogger) (Application, error)

var (
	loaders  = map[string]Loader{}
	loaderMx sync.Mutex
)

// RegisterLoader makes an application kind available to entrypoint files.
func RegisterLoader(kind string, l Loader) {
	loaderMx.Lock()
	loaders[kind] = l
	loaderMx.Unlock()
}

// LoadApplication reads the entrypoint and builds its application.
// Failures are configuration errors: the server must not start without
// an application.
func LoadApplication(cfg *ServerConfig, log logrus.FieldLogger) (Application, error) {
	path := cfg.Path(cfg.Entrypoint)
	d, err := ReadDescriptor(path)
	if err != nil {
		return nil, &ConfigError{"entrypoint", err.Error()}
	}
	loaderMx.Lock()
	l, ok := loaders[d.Kind]
	loaderMx.Unlock()
	if !ok {
		return nil, &ConfigError{"entrypoint", fmt.Sprintf("%v: %s", ErrUnknownAppKind, d.Kind)}
	}
	app, err := l(cfg.Directory, d, log)
	if err != nil {
		return nil, &ConfigError{"entrypoint", err.Error()}
	}
	return app, nil
}

// StdLogger adapts l for packages that log through the standard
// library, at error level.  It returns nil if l cannot provide a writer.
func StdLogger(l logrus.FieldLogger) *log.Logger {
	if fl, ok := l.(interface{ WriterLevel(logrus.Level) *io.PipeWriter }); ok {
		return log.New(fl.WriterLevel(logrus.ErrorLevel), "", 0)
	}
	return nil
}

func loadStatic(dir string, d *Descriptor, l logrus.FieldLogger) (Application, error) {
	root := d.Root
	if root == "" {
		root = "."
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}
	if st, err := os.Stat(root); err != nil {
		return nil, err
	} else if !st.IsDir() {
		return nil, errors.New("static root is not a directory: " + root)
	}
	return &HandlerApp{
		Handler:           http.FileServer(http.Dir(root)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       20 * time.Second,
		ErrorLog:          StdLogger(l),
	}, nil
}

func loadProxy(dir string, d *Descriptor, l logrus.FieldLogger) (Application, error) {
	if d.Upstream == "" {
		return nil, errors.New("proxy requires upstream")
	}
	u, err := url.Parse(d.Upstream)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("proxy upstream must be an absolute URL: " + d.Upstream)
	}
	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorLog = StdLogger(l)
	return &HandlerApp{
		Handler:           rp,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       20 * time.Second,
		ErrorLog:          rp.ErrorLog,
	}, nil
}

func init() {
	RegisterLoader("static", loadStatic)
	RegisterLoader("proxy", loadProxy)
}
