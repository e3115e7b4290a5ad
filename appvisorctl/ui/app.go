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

// Package ui implements the full screen "top" view of appvisorctl.
package ui

import (
	"context"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
	"github.com/sirupsen/logrus"

	"github.com/appvisor/appvisor"
	"github.com/appvisor/appvisor/rest"
)

// App is the root widget.  Its fields are only touched from the
// application's event loop; background pollers hand results over with
// PostFunc.
type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	client    *rest.Client
	logger    logrus.FieldLogger
	server    string
	stats     *appvisor.Stats
	err       error
	message   string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowLog() {
	if a.logCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.logCancel = cancel
		go a.refreshLog(ctx)
	}
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

// request runs a control request in the background and reports the
// outcome in the status bar.
func (a *App) request(what string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := fn(ctx)
		cancel()
		a.app.PostFunc(func() {
			if err != nil {
				a.message = what + " failed: " + err.Error()
				a.logger.WithError(err).Warn(what + " failed")
			} else {
				a.message = what + " requested"
			}
			a.app.Update()
		})
	}()
}

func (a *App) Restart() {
	a.request("Restart", a.client.Restart)
}

func (a *App) Stop() {
	a.request("Stop", a.client.Stop)
}

func (a *App) ReopenLogs() {
	a.request("Reopen logs", a.client.ReopenLogs)
}

func (a *App) Quit() {
	if a.logCancel != nil {
		a.logCancel()
	}
	a.app.Quit()
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "Appvisor v" + appvisor.Version
}

// GetStats returns the latest statistics and any error fetching them.
func (a *App) GetStats() (*appvisor.Stats, error) {
	return a.stats, a.err
}

// TakeMessage returns, and clears, the outcome of the last request.
func (a *App) TakeMessage() string {
	m := a.message
	a.message = ""
	return m
}

func (a *App) GetLog() (*rest.LogInfo, error) {
	return a.logInfo, a.logErr
}

func (a *App) refresh(interval time.Duration) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		st, e := a.client.Stats(ctx)
		cancel()
		a.app.PostFunc(func() {
			if e == nil || a.stats == nil {
				a.stats = st
			}
			a.err = e
			a.app.Update()
		})
		time.Sleep(interval)
	}
}

func (a *App) refreshLog(ctx context.Context) {
	info, e := a.client.GetLog(ctx)
	for {
		a.app.PostFunc(func() {
			a.logInfo = info
			a.logErr = e
			a.app.Update()
		})
		if ctx.Err() != nil {
			return
		}
		var next *rest.LogInfo
		if next, e = a.client.WatchLog(ctx, info, rest.MaxPollTime); e != nil {
			time.Sleep(2 * time.Second)
			continue
		}
		info = next
	}
}

// NewApp returns the top view for the server at the control address
// server.
func NewApp(client *rest.Client, server string, logger logrus.FieldLogger) *App {
	app := &App{
		app:    &views.Application{},
		client: client,
		server: server,
		logger: logger,
	}
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, server)
	app.panel = app.main
	return app
}

// Run shows the view until the user quits, refreshing statistics every
// interval.
func (a *App) Run(interval time.Duration) error {
	a.logger.Debug("Starting user interface")
	go a.refresh(interval)
	a.app.SetRootWidget(a)
	a.ShowMain()
	return a.app.Run()
}
