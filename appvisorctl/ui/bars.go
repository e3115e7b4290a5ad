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
	"strings"
	"sync"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
)

var (
	barNormal = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	barAccent = tcell.StyleDefault.
			Foreground(tcell.ColorBlue).
			Background(tcell.ColorSilver).Bold(true)
)

// TitleBar shows the panel title in the center and the program name on
// the right.
type TitleBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (tb *TitleBar) Init() {
	tb.once.Do(func() {
		tb.SimpleStyledTextBar.Init()
		tb.SimpleStyledTextBar.SetStyle(barNormal)
		tb.RegisterCenterStyle('N', barNormal)
		tb.RegisterCenterStyle('A', barAccent)
		tb.RegisterRightStyle('N', barNormal)
		tb.RegisterRightStyle('A', barAccent)
	})
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	return tb
}

// Health classifies what a status line reports.
type Health int

const (
	HealthNormal Health = iota
	HealthGood
	HealthWarn
	HealthError
)

var healthStyles = map[Health]tcell.Style{
	HealthNormal: barNormal,
	HealthGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	HealthWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	HealthError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// StatusBar shows one line colored by its health, for example maroon
// while workers are failing.
type StatusBar struct {
	views.SimpleStyledTextBar
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.SimpleStyledTextBar.Init()
	sb.Report(HealthNormal, " ")
	return sb
}

// Report replaces the line.
func (sb *StatusBar) Report(h Health, text string) {
	style := healthStyles[h]
	sb.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(strings.Replace(text, "%", "%%", -1))
}

// KeyBar lists the keys available, highlighting the bracketed part of
// each word, as in "[Q] Quit".
type KeyBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (k *KeyBar) Init() {
	k.once.Do(func() {
		k.SimpleStyledTextBar.Init()
		k.SimpleStyledTextBar.SetStyle(barNormal)
		k.RegisterLeftStyle('N', barNormal)
		k.RegisterLeftStyle('A', barAccent)
	})
}

func (k *KeyBar) SetKeys(words []string) {
	r := strings.NewReplacer("%", "%%", "[", "[%A", "]", "%N]")
	for i, w := range words {
		words[i] = r.Replace(w)
	}
	k.SetLeft(strings.Join(words, " "))
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.Init()
	return kb
}
