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
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of supervisor log, as served by the control API.
type LogRecord struct {
	Id    int64     `json:"id,string"`
	Time  time.Time `json:"time"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
}

// Log keeps the most recent supervisor log lines in memory.  Ids increase
// monotonically, so the id of the newest line is usable as an Etag.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

// NewLog returns a Log instance.
func NewLog() *Log {
	return &Log{
		maxRecords: MaxLogRecords,
		records:    make([]LogRecord, MaxLogRecords),
		// Seeding with the clock keeps ids from an earlier process,
		// cached by a client, from matching ours.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}

func (l *Log) add(t time.Time, level string, text string) {
	l.mx.Lock()
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		idx := l.numRecords % l.maxRecords
		l.id++
		l.records[idx] = LogRecord{Id: l.id, Time: t, Level: level, Text: line}
		// numRecords keeps counting past maxRecords; it tracks the
		// next index.
		l.numRecords++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
}

// Write records each line of b at info level.
func (l *Log) Write(b []byte) (int, error) {
	l.add(time.Now(), "info", string(b))
	return len(b), nil
}

// Records returns the stored lines, oldest first, and the current id.
// If last equals the current id nothing changed, and nil is returned.
func (l *Log) Records(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.numRecords
	if cnt > l.maxRecords {
		cnt = l.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := l.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, l.records[index%l.maxRecords])
		index++
	}
	return recs, l.id
}

// Watch blocks until the id moves away from last, or expire passes, and
// returns the current id.  An expire of zero polls.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
	} else {
		expired = true
	}

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// Hook returns a logrus hook copying every entry into the Log.
func (l *Log) Hook() logrus.Hook {
	return &logHook{l}
}

type logHook struct {
	log *Log
}

func (h *logHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *logHook) Fire(e *logrus.Entry) error {
	text := e.Message
	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k, v := range e.Data {
			keys = append(keys, k+"="+formatField(v))
		}
		sort.Strings(keys)
		text += " " + strings.Join(keys, " ")
	}
	h.log.add(e.Time, e.Level.String(), text)
	return nil
}

func formatField(v interface{}) string {
	if err, ok := v.(error); ok {
		return fmt.Sprintf("%q", err.Error())
	}
	return fmt.Sprint(v)
}

// NewLogger returns a logger formatted for the environment profile.
func NewLogger(env Environment, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	configureLogger(l, env)
	return l
}

func configureLogger(l *logrus.Logger, env Environment) {
	switch env {
	case EnvProduction, EnvStaging:
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(logrus.InfoLevel)
	case EnvTest:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		l.SetLevel(logrus.DebugLevel)
	}
}
