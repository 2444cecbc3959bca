// Package tui renders a live run monitor driven entirely by the event bus.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/storyflow/internal/events"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true)
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleBorder  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

type storyState int

const (
	stateRunning storyState = iota
	stateSucceeded
	stateFailed
	stateCommitted
)

type storyLine struct {
	id      string
	state   storyState
	attempt int
	detail  string
}

// Model is the Bubble Tea model for the run monitor.
type Model struct {
	sub       <-chan events.Event
	spin      spinner.Model
	batch     int
	batchIDs  []string
	stories   map[string]*storyLine
	order     []string
	commits   int
	failures  int
	conflicts int
	finished  bool
	status    string
	width     int
	quitting  bool
}

// New creates a monitor model subscribed to all bus topics.
func New(bus *events.Bus) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleRunning
	return Model{
		sub:     bus.SubscribeAll(256),
		spin:    sp,
		stories: make(map[string]*storyLine),
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.sub))
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

type busClosedMsg struct{}

// Update handles key, spinner, and bus messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case busClosedMsg:
		m.finished = true
		return m, tea.Quit

	case events.Event:
		m.apply(msg)
		if m.finished {
			return m, tea.Quit
		}
		return m, waitForEvent(m.sub)
	}

	return m, nil
}

func (m *Model) apply(ev events.Event) {
	switch ev := ev.(type) {
	case events.BatchStarted:
		m.batch = ev.Index + 1
		m.batchIDs = ev.StoryIDs

	case events.StoryStarted:
		line, ok := m.stories[ev.StoryID]
		if !ok {
			line = &storyLine{id: ev.StoryID}
			m.stories[ev.StoryID] = line
			m.order = append(m.order, ev.StoryID)
		}
		line.state = stateRunning
		line.attempt = ev.Attempt

	case events.StoryFinished:
		if line, ok := m.stories[ev.StoryID]; ok {
			if ev.Success {
				line.state = stateSucceeded
				line.detail = fmt.Sprintf("%d file(s) in %s", len(ev.Files), ev.Duration.Round(1e9))
			} else {
				line.state = stateFailed
				line.detail = ev.Err
			}
		}

	case events.ConflictDetected:
		m.conflicts++

	case events.CommitCreated:
		m.commits++
		if line, ok := m.stories[ev.StoryID]; ok {
			line.state = stateCommitted
			line.detail = ev.Subject
		}

	case events.RunFinished:
		m.finished = true
		m.status = ev.Status
		m.failures = ev.Failures
	}
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styleTitle.Render("storyflow"))
	if m.batch > 0 {
		fmt.Fprintf(&b, "  batch %d: %s", m.batch, strings.Join(m.batchIDs, ", "))
	}
	b.WriteString("\n\n")

	ids := append([]string(nil), m.order...)
	sort.Strings(ids)
	for _, id := range ids {
		line := m.stories[id]
		switch line.state {
		case stateRunning:
			marker := m.spin.View()
			if line.attempt > 1 {
				fmt.Fprintf(&b, "%s %s (attempt %d)\n", marker, id, line.attempt)
			} else {
				fmt.Fprintf(&b, "%s %s\n", marker, id)
			}
		case stateSucceeded:
			fmt.Fprintf(&b, "%s %s  %s\n", styleDone.Render("ok"), id, styleDim.Render(line.detail))
		case stateCommitted:
			fmt.Fprintf(&b, "%s %s  %s\n", styleDone.Render("++"), id, styleDim.Render(line.detail))
		case stateFailed:
			fmt.Fprintf(&b, "%s %s  %s\n", styleFailed.Render("xx"), id, styleDim.Render(line.detail))
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "commits: %d  conflicts: %d", m.commits, m.conflicts)
	if m.finished {
		fmt.Fprintf(&b, "  run %s", m.status)
	}
	b.WriteString("\n")
	b.WriteString(styleDim.Render("q to quit"))

	return styleBorder.Render(b.String())
}
