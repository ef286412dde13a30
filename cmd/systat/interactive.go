package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/local-runtime/system"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	entryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateOverview modelState = iota
	stateNameWorker
	stateNameQueue
)

type statModel struct {
	err      error
	sys      *system.System
	input    textinput.Model
	pids     []int64
	state    modelState
	shutDown bool
}

func newStatModel(sys *system.System) *statModel {
	input := textinput.New()
	input.CharLimit = 32
	input.Width = 24
	return &statModel{
		sys:   sys,
		input: input,
		state: stateOverview,
	}
}

func (m *statModel) Init() tea.Cmd {
	return nil
}

func (m *statModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateOverview {
			return m.updateOverview(msg)
		}
		return m.updateNaming(msg)
	}
	return m, nil
}

func (m *statModel) updateOverview(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if !m.shutDown {
			m.err = m.sys.Shutdown(context.Background())
			m.shutDown = true
		}
		return m, tea.Quit

	case "w":
		if m.shutDown {
			return m, nil
		}
		m.state = stateNameWorker
		m.input.Placeholder = "worker name"
		m.input.SetValue("")
		m.input.Focus()

	case "u":
		if m.shutDown {
			return m, nil
		}
		m.state = stateNameQueue
		m.input.Placeholder = "queue name"
		m.input.SetValue("")
		m.input.Focus()

	case "p":
		pid, err := m.sys.AllocateProcess(struct{}{})
		if err != nil {
			m.err = err
			return m, nil
		}
		m.pids = append(m.pids, pid)
		m.err = nil

	case "d":
		if len(m.pids) > 0 {
			m.sys.DeallocateProcess(m.pids[len(m.pids)-1])
			m.pids = m.pids[:len(m.pids)-1]
			m.err = nil
		}

	case "s":
		m.err = m.sys.Shutdown(context.Background())
		m.shutDown = true
	}
	return m, nil
}

func (m *statModel) updateNaming(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		name := strings.TrimSpace(m.input.Value())
		if name != "" {
			switch m.state {
			case stateNameWorker:
				_, m.err = m.sys.CreateWorker(system.WorkerOptions{Name: name, OwnedThread: true})
			case stateNameQueue:
				_, m.err = m.sys.CreateQueue(system.QueueOptions{Name: name})
			}
		}
		m.state = stateOverview
		m.input.Blur()
		return m, nil

	case "esc":
		m.state = stateOverview
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *statModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("local-runtime systat"))
	b.WriteString("\n\n")
	b.WriteString(stateStyle.Render(fmt.Sprintf("state: %s    nodes: %d    processes: %d",
		m.sys.State(), m.sys.NodeCount(), m.sys.ProcessCount())))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("drivers"))
	b.WriteByte('\n')
	for _, moniker := range m.sys.DriverMonikers() {
		b.WriteString(entryStyle.Render("  " + moniker))
		b.WriteByte('\n')
	}

	b.WriteString(sectionStyle.Render("devices"))
	b.WriteByte('\n')
	for _, d := range m.sys.Devices() {
		b.WriteString(entryStyle.Render(fmt.Sprintf("  %-10s driver=%s", d.Name(), d.DriverMoniker())))
		b.WriteByte('\n')
	}

	b.WriteString(sectionStyle.Render("workers"))
	b.WriteByte('\n')
	for _, w := range m.sys.Workers() {
		kind := "unowned"
		if w.OwnsThread() {
			kind = "owned"
		}
		b.WriteString(entryStyle.Render(fmt.Sprintf("  %-10s %s", w.Name(), kind)))
		b.WriteByte('\n')
	}

	b.WriteString(sectionStyle.Render("queues"))
	b.WriteByte('\n')
	for _, q := range m.sys.Queues() {
		b.WriteString(entryStyle.Render(fmt.Sprintf("  %-10s pending=%d", q.Name(), q.Len())))
		b.WriteByte('\n')
	}

	if len(m.pids) > 0 {
		b.WriteString(sectionStyle.Render("pids"))
		b.WriteString(entryStyle.Render(fmt.Sprintf(" %v", m.pids)))
		b.WriteByte('\n')
	}

	if m.err != nil {
		b.WriteByte('\n')
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	switch m.state {
	case stateOverview:
		b.WriteString(helpStyle.Render("w: new worker  u: new queue  p: allocate pid  d: drop pid  s: shutdown  q: quit"))
	default:
		b.WriteString(m.input.View())
		b.WriteByte('\n')
		b.WriteString(helpStyle.Render("enter: create  esc: cancel"))
	}
	b.WriteByte('\n')

	return b.String()
}

func runInteractive(nodes, devices, workers int) error {
	sys, err := buildDemoSystem(nodes, devices, workers)
	if err != nil {
		return err
	}

	model := newStatModel(sys)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, runErr := p.Run()

	// Quit paths shut the system down already; this is the safety net.
	shutdownErr := sys.Shutdown(context.Background())
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}
