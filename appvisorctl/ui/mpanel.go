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

package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/appvisor/appvisor"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
	StyleHeader = tcell.StyleDefault.
			Foreground(tcell.ColorWhite).
			Background(tcell.ColorBlack).Bold(true)
)

// FormatDuration renders d as h:mm:ss.
func FormatDuration(d time.Duration) string {
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// WorkerState summarizes a worker for display.
func WorkerState(w *appvisor.WorkerStatus) string {
	switch {
	case !w.Running:
		return "down"
	case !w.Booted:
		return "booting"
	}
	return "up"
}

// MainPanel shows the server summary and one line per worker, or the
// thread pool in single mode.
type MainPanel struct {
	content *views.CellView
	width   int
	lines   []string
	styles  []tcell.Style

	Panel
}

// mainModel provides the model for a CellView.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.setup(app, server, "[Q] Quit")
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'L', 'l':
				m.App().ShowLog()
				return true
			case 'R', 'r':
				m.App().Restart()
				return true
			case 'S', 's':
				m.App().Stop()
				return true
			case 'O', 'o':
				m.App().ReopenLogs()
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m
	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}
	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	}
	return ch, m.styles[y], nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	return model.m.width, len(model.m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	return 0, 0, false, false
}

func (model *mainModel) MoveCursor(offx, offy int) {}

func (model *mainModel) SetCursor(x, y int) {}

func (m *MainPanel) add(style tcell.Style, format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if len(line) > m.width {
		m.width = len(line)
	}
	m.lines = append(m.lines, line)
	m.styles = append(m.styles, style)
}

// update is called with the application lock held, from Draw.
func (m *MainPanel) update() {
	st, err := m.App().GetStats()
	m.lines = m.lines[:0]
	m.styles = m.styles[:0]
	m.width = 0

	m.SetKeys("[Q] Quit", "[H] Help", "[L] Log", "[R] Restart", "[S] Stop", "[O] Reopen logs")

	if st == nil {
		if err != nil {
			m.Report(HealthError, "Cannot load stats: %v", err)
		} else {
			m.Report(HealthError, "Loading ...")
		}
		return
	}

	m.add(StyleHeader, "State: %-12s Pid: %-8d Mode: %-8s Address: %s",
		st.State, st.Pid, st.Mode, st.Address)
	m.add(StyleNormal, "Boot:  %s  Up %s",
		st.BootID, FormatDuration(time.Since(st.StartedAt)))
	m.add(StyleNormal, "")

	failing := 0
	if st.Pool != nil {
		p := st.Pool
		m.add(StyleHeader, "%-8s %8s %8s %8s %8s", "THREADS", "RUNNING", "BUSY", "BACKLOG", "CAPACITY")
		style := StyleGood
		if p.Backlog > 0 {
			style = StyleWarn
		}
		m.add(style, "%-8s %8d %8d %8d %8d",
			fmt.Sprintf("%d:%d", p.Min, p.Max), p.Running, p.Busy, p.Backlog, p.Capacity)
	}
	if len(st.WorkerStatus) > 0 {
		m.add(StyleHeader, "%-6s %-8s %-8s %10s %8s %8s %8s  %s",
			"WORKER", "PID", "STATE", "UPTIME", "CHECKIN", "RESTARTS", "BUSY", "REASON")
		for i := range st.WorkerStatus {
			w := &st.WorkerStatus[i]
			style := StyleGood
			switch WorkerState(w) {
			case "down":
				style = StyleError
				failing++
			case "booting":
				style = StyleWarn
			}
			up, checkin := "-", "-"
			if w.Running {
				up = FormatDuration(time.Since(w.StartedAt))
			}
			if !w.LastCheckin.IsZero() {
				checkin = fmt.Sprintf("%ds", int(time.Since(w.LastCheckin)/time.Second))
			}
			busy := "-"
			if w.Pool != nil {
				busy = fmt.Sprintf("%d/%d", w.Pool.Busy, w.Pool.Capacity)
			}
			m.add(style, "%-6d %-8d %-8s %10s %8s %8d %8s  %s",
				w.Index, w.Pid, WorkerState(w), up, checkin, w.Restarts, busy, w.Reason)
		}
	}

	status := fmt.Sprintf("%s, %d/%d workers booted", st.State, st.BootedWorkers, st.Workers)
	if st.Mode == "single" {
		status = st.State
	}
	if msg := m.App().TakeMessage(); msg != "" {
		status += " | " + msg
	}
	if err != nil {
		status += fmt.Sprintf(" | stale: %v", err)
	}
	health := HealthGood
	switch {
	case err != nil, failing > 0:
		health = HealthError
	case st.State != appvisor.StateRunning.String():
		health = HealthWarn
	}
	m.Report(health, "%s", status)
}
