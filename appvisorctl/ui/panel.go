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

	"github.com/gdamore/tcell/views"
)

// Panel frames a view: title bar on top, then the content, a status
// line and the key bar.
type Panel struct {
	app *App
	tb  *TitleBar
	sb  *StatusBar
	kb  *KeyBar

	views.Panel
}

// setup builds the bars; panels call it once from their constructor.
func (p *Panel) setup(app *App, title string, keys ...string) {
	p.app = app
	p.tb = NewTitleBar()
	p.tb.SetCenter(title)
	p.tb.SetRight(app.GetAppName())
	p.sb = NewStatusBar()
	p.kb = NewKeyBar()
	p.kb.SetKeys(keys)

	p.Panel.SetTitle(p.tb)
	p.Panel.SetMenu(p.sb)
	p.Panel.SetStatus(p.kb)
}

func (p *Panel) SetKeys(keys ...string) {
	p.kb.SetKeys(keys)
}

// Report sets the status line.
func (p *Panel) Report(h Health, format string, args ...interface{}) {
	p.sb.Report(h, fmt.Sprintf(format, args...))
}

func (p *Panel) App() *App {
	return p.app
}
