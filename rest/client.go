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

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/appvisor/appvisor"
)

// LogInfo is a batch of log records and the Etag to watch for changes
// after it.
type LogInfo struct {
	Etag    string
	Records []appvisor.LogRecord
}

// Client talks to the control API of a running supervisor.
type Client struct {
	base   string
	token  string
	client *http.Client
}

// NewClient returns a client for the control address addr, which is
// either tcp://host:port or unix://path.  The token may be empty.
func NewClient(addr string, token string) (*Client, error) {
	ep, err := appvisor.ParseBind(addr)
	if err != nil {
		return nil, err
	}
	t := &http.Transport{}
	base := "http://" + ep.Address
	if ep.Network == "unix" {
		path := ep.Address
		t.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		}
		base = "http://appvisor"
	}
	return &Client{
		base:   base,
		token:  token,
		client: &http.Client{Transport: t},
	}, nil
}

func (c *Client) request(ctx context.Context, method, path string) (*http.Request, error) {
	req, e := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if e != nil {
		return nil, e
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do issues req and decodes a JSON reply into v.  A 304 leaves v alone.
func (c *Client) do(req *http.Request, v interface{}) (*http.Response, error) {
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return res, nil
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return nil, e
	}
	if res.StatusCode >= 300 {
		rerr := &Error{}
		if json.Unmarshal(body, rerr) != nil || rerr.Message == "" {
			rerr = &Error{Code: res.StatusCode, Message: res.Status}
		}
		return nil, rerr
	}
	if v != nil {
		if e := json.Unmarshal(body, v); e != nil {
			return nil, e
		}
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, e := c.request(ctx, "GET", path)
	if e != nil {
		return e
	}
	_, e = c.do(req, v)
	return e
}

func (c *Client) post(ctx context.Context, path string) error {
	req, e := c.request(ctx, "POST", path)
	if e != nil {
		return e
	}
	_, e = c.do(req, &Accepted{})
	return e
}

// Status returns the lifecycle state of the server.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	v := &StatusInfo{}
	if e := c.get(ctx, "/status", v); e != nil {
		return nil, e
	}
	return v, nil
}

// Stats returns the full statistics report.
func (c *Client) Stats(ctx context.Context) (*appvisor.Stats, error) {
	v := &appvisor.Stats{}
	if e := c.get(ctx, "/stats", v); e != nil {
		return nil, e
	}
	return v, nil
}

// Restart asks for a restart.  It returns once the request is accepted.
func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, "/restart")
}

// Stop asks for a graceful stop.  It returns once the request is accepted.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/stop")
}

// ReopenLogs asks the server to reopen its redirected log files.
func (c *Client) ReopenLogs(ctx context.Context) error {
	return c.post(ctx, "/reopen-logs")
}

// GetLog returns the recent log.
func (c *Client) GetLog(ctx context.Context) (*LogInfo, error) {
	return c.WatchLog(ctx, nil, 0)
}

// WatchLog waits up to secs seconds for the log to change from last,
// and returns the new contents.  If nothing changed, last is returned.
func (c *Client) WatchLog(ctx context.Context, last *LogInfo, secs int) (*LogInfo, error) {
	req, e := c.request(ctx, "GET", "/log")
	if e != nil {
		return nil, e
	}
	if last != nil && last.Etag != "" {
		req.Header.Set("If-None-Match", last.Etag)
		if secs > 0 {
			req.Header.Set(PollEtagHeader, last.Etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(secs))
		}
	}
	v := &LogInfo{}
	res, e := c.do(req, &v.Records)
	if e != nil {
		return nil, e
	}
	if res.StatusCode == http.StatusNotModified {
		return last, nil
	}
	v.Etag = strings.TrimSpace(res.Header.Get("Etag"))
	return v, nil
}
