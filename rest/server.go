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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/appvisor/appvisor"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Controller is the part of a Supervisor the control API drives.
type Controller interface {
	State() appvisor.State
	Stats() *appvisor.Stats
	Restart() error
	Halt() error
	ReopenLogs() error
	Log() *appvisor.Log
}

// Handler wraps a Controller, adding http.Handler functionality.
type Handler struct {
	c     Controller
	r     *mux.Router
	token string
	log   logrus.FieldLogger
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJson(w, e.Code, e)
}

// failure maps supervisor errors onto HTTP status codes.
func failure(err error) *Error {
	switch {
	case errors.Is(err, appvisor.ErrNotRunning),
		errors.Is(err, appvisor.ErrRestartInProgress),
		errors.Is(err, appvisor.ErrBadState):
		return &Error{http.StatusConflict, err.Error()}
	}
	return &Error{http.StatusInternalServerError, err.Error()}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	given := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		given = strings.TrimPrefix(auth, "Bearer ")
	}
	if given == "" {
		return false
	}
	if strings.HasPrefix(h.token, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(h.token), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(h.token), []byte(given)) == 1
}

func (h *Handler) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"remote": r.RemoteAddr,
		}).Debug("Control request")
		if !h.authorized(r) {
			h.writeError(w, &Error{http.StatusUnauthorized, "Invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st := h.c.Stats()
	h.writeJson(w, http.StatusOK, &StatusInfo{
		State:     st.State,
		Pid:       st.Pid,
		BootID:    st.BootID,
		Version:   st.Version,
		Mode:      st.Mode,
		Address:   st.Address,
		StartedAt: st.StartedAt,
	})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, http.StatusOK, h.c.Stats())
}

func etag(id int64) string {
	return fmt.Sprintf("%q", strconv.FormatInt(id, 10))
}

func parseEtag(s string) int64 {
	id, _ := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	return id
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	l := h.c.Log()
	if tag := r.Header.Get(PollEtagHeader); tag != "" {
		secs, _ := strconv.Atoi(r.Header.Get(PollTimeHeader))
		if secs > MaxPollTime {
			secs = MaxPollTime
		}
		if secs > 0 {
			l.Watch(parseEtag(tag), time.Duration(secs)*time.Second)
		}
	}
	recs, id := l.Records(parseEtag(r.Header.Get("If-None-Match")))
	w.Header().Set("Etag", etag(id))
	if recs == nil {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJson(w, http.StatusOK, recs)
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	switch h.c.State() {
	case appvisor.StateRunning:
	case appvisor.StateRestarting:
		h.writeError(w, failure(appvisor.ErrRestartInProgress))
		return
	default:
		h.writeError(w, failure(appvisor.ErrNotRunning))
		return
	}
	go func() {
		if err := h.c.Restart(); err != nil {
			h.log.WithError(err).Warn("Restart via control API failed")
		}
	}()
	h.writeJson(w, http.StatusAccepted, &Accepted{"restarting"})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.c.Halt(); err != nil {
		h.writeError(w, failure(err))
		return
	}
	h.writeJson(w, http.StatusAccepted, &Accepted{"stopping"})
}

func (h *Handler) reopenLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.c.ReopenLogs(); err != nil {
		h.writeError(w, failure(err))
		return
	}
	h.writeJson(w, http.StatusOK, &Accepted{"reopened"})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns the control API for c.  When token is not empty,
// every request must present it, either as a token query parameter or
// as a Bearer authorization.  A token beginning with "$2" is taken to be
// a bcrypt hash of the expected value.
func NewHandler(c Controller, token string, log logrus.FieldLogger) *Handler {
	r := mux.NewRouter()
	h := &Handler{c: c, r: r, token: token, log: log}
	r.Use(h.middleware)
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/stats", h.getStats).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/restart", h.restart).Methods("POST")
	r.HandleFunc("/stop", h.stop).Methods("POST")
	r.HandleFunc("/reopen-logs", h.reopenLogs).Methods("POST")
	return h
}
