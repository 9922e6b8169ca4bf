package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"
)

type tickMsg time.Time
type errsMsg []error
type progMsg int

type uploadModel struct {
	cancel   context.CancelFunc
	total    int
	done     int
	spinner  spinner.Model
	bar      progress.Model
	errs     []error
	finished bool
	// Smoothed ETA
	emaRate  float64 // msgs/sec (EMA)
	lastDone int
	lastAt   time.Time
	started  time.Time
}

func newUploadModel(cancel context.CancelFunc, total int) *uploadModel {
	s := spinner.New()
	s.Spinner = spinner.Line
	bar := progress.New(progress.WithDefaultGradient())
	now := time.Now()
	return &uploadModel{cancel: cancel, total: total, spinner: s, bar: bar, started: now, lastAt: now}
}

func (m *uploadModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.cancel()
			return m, tea.Quit
		}
	case errsMsg:
		m.errs = []error(msg)
		m.finished = true
		if len(m.errs) == 0 {
			m.done = m.total
		}
		return m, tea.Quit
	case progMsg:
		m.done += int(msg)
		return m, m.spinner.Tick
	case tickMsg:
		m.updateEMARate()
		return m, tea.Batch(m.spinner.Tick, tick())
	}
	return m, nil
}

func (m *uploadModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("Mailferry")
	s := title + "\n\nPress q to abort\n\n"
	pct := 0.0
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	s += fmt.Sprintf("%s Uploading %d/%d   %s\n", m.spinner.View(), m.done, m.total, m.formatETA())
	s += m.bar.ViewAs(pct) + "\n\n"
	if m.finished && len(m.errs) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Errors:\n")
		for _, e := range m.errs {
			s += " - " + e.Error() + "\n"
		}
	}
	return s
}

func (m *uploadModel) formatETA() string {
	if m.total == 0 {
		return "ETA --"
	}
	remaining := m.total - m.done
	if remaining <= 0 {
		return "ETA 0s"
	}
	// Prefer smoothed rate if available; fallback to average rate
	rate := m.emaRate
	if rate <= 0.01 {
		elapsed := time.Since(m.started)
		if elapsed <= 0 {
			return "ETA --"
		}
		rate = float64(m.done) / elapsed.Seconds()
	}
	if rate <= 0.01 { // too low/unstable
		return "ETA --"
	}
	secs := float64(remaining) / rate
	if secs < 1 {
		return "ETA <1s"
	}
	d := time.Duration(secs) * time.Second
	if d > 99*time.Hour {
		return "ETA >99h"
	}
	if d >= time.Hour {
		h := int(d / time.Hour)
		rem := d - time.Duration(h)*time.Hour
		mrem := int(rem / time.Minute)
		return fmt.Sprintf("ETA %dh%dm", h, mrem)
	}
	if d >= time.Minute {
		mns := int(d.Minutes())
		sec := int(d.Seconds()) % 60
		return fmt.Sprintf("ETA %dm%ds", mns, sec)
	}
	return fmt.Sprintf("ETA %ds", int(d.Seconds()))
}

// updateEMARate updates the EMA of upload rate based on deltas since last tick.
func (m *uploadModel) updateEMARate() {
	now := time.Now()
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	delta := m.done - m.lastDone
	inst := float64(delta) / dt // msgs/sec
	// EMA with half-life ~3s -> alpha depends on dt
	halfLife := 3.0 // seconds
	alpha := 1 - math.Exp(-math.Ln2*dt/halfLife)
	if m.emaRate == 0 {
		m.emaRate = inst
	} else {
		m.emaRate = alpha*inst + (1-alpha)*m.emaRate
	}
	m.lastDone = m.done
	m.lastAt = now
}

// runUploadTUI displays a progress UI driven by a progress channel.
func runUploadTUI(cancel context.CancelFunc, total int, progress <-chan int, errc <-chan error) {
	m := newUploadModel(cancel, total)
	p := tea.NewProgram(m)
	// Fan-in progress/errors into Program messages
	go func() {
		for inc := range progress {
			p.Send(progMsg(inc))
		}
		// After progress closes, wait for the run result (which may be nil)
		if err := <-errc; err != nil {
			p.Send(errsMsg{err})
		} else {
			p.Send(errsMsg{})
		}
	}()
	if _, err := p.Run(); err != nil {
		// Fallback: no TUI, just drain until the run finishes
		fmt.Println("TUI failed:", err)
		for range progress {
		}
		<-errc
	}
}
