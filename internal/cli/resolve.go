package cli

import (
	"fmt"
	"strings"
	"time"

	"habitsync/internal/conflict"
	"habitsync/internal/sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

type resolveKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Choose key.Binding
	Local  key.Binding
	Cloud  key.Binding
	Quit   key.Binding
}

var resolveKeys = resolveKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "choose")),
	Local:  key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "this device")),
	Cloud:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cloud")),
	Quit:   key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc", "decide later")),
}

type resolveOption struct {
	resolution sync.Resolution
	title      string
	detail     string
}

// resolveModel is the bubbletea model for the conflict picker
type resolveModel struct {
	record   conflict.Record
	now      time.Time
	options  []resolveOption
	cursor   int
	chosen   *sync.Resolution
	quitting bool
}

func newResolveModel(rec conflict.Record, now time.Time) resolveModel {
	return resolveModel{
		record: rec,
		now:    now,
		options: []resolveOption{
			{
				resolution: sync.UseThisDevice,
				title:      "Use this device",
				detail:     fmt.Sprintf("Upload this device's %d records and replace the cloud copy", rec.LocalRecordCount),
			},
			{
				resolution: sync.UseCloudData,
				title:      "Use cloud data",
				detail:     fmt.Sprintf("Replace this device's data with %d records from %s", rec.RemoteRecordCount, rec.RemoteLabel()),
			},
			{
				resolution: sync.Cancel,
				title:      "Cancel",
				detail:     "Change nothing and drop this sync request",
			},
		},
	}
}

func (m resolveModel) Init() tea.Cmd {
	return nil
}

func (m resolveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, resolveKeys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(keyMsg, resolveKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, resolveKeys.Down):
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, resolveKeys.Local):
		return m.choose(sync.UseThisDevice)
	case key.Matches(keyMsg, resolveKeys.Cloud):
		return m.choose(sync.UseCloudData)
	case key.Matches(keyMsg, resolveKeys.Choose):
		return m.choose(m.options[m.cursor].resolution)
	}
	return m, nil
}

func (m resolveModel) choose(r sync.Resolution) (tea.Model, tea.Cmd) {
	m.chosen = &r
	m.quitting = true
	return m, tea.Quit
}

func (m resolveModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(headerStyle.Render("Sync conflict"))
	s.WriteString("\n\n")
	s.WriteString(RenderConflictSummary(m.record, m.now))
	s.WriteString("\n\n")

	selected := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	for i, opt := range m.options {
		cursor := "  "
		title := opt.title
		if i == m.cursor {
			cursor = "> "
			title = selected.Render(title)
		}
		fmt.Fprintf(&s, "%s%s\n    %s\n", cursor, title, mutedStyle.Render(opt.detail))
	}

	help := []string{}
	for _, b := range []key.Binding{resolveKeys.Up, resolveKeys.Down, resolveKeys.Choose, resolveKeys.Quit} {
		h := b.Help()
		help = append(help, h.Key+": "+h.Desc)
	}
	s.WriteString("\n")
	s.WriteString(mutedStyle.Render(strings.Join(help, " • ")))
	return s.String()
}

// RenderConflictSummary is the plain text shown above the choices
func RenderConflictSummary(rec conflict.Record, now time.Time) string {
	var s strings.Builder
	fmt.Fprintf(&s, "The cloud copy was last written by %s", rec.RemoteLabel())
	if !rec.RemoteSyncedAt.IsZero() {
		fmt.Fprintf(&s, " %s", humanize.RelTime(rec.RemoteSyncedAt, now, "ago", "from now"))
	}
	fmt.Fprintf(&s, ".\nThis device has %d records, the cloud has %d.", rec.LocalRecordCount, rec.RemoteRecordCount)
	if rec.Severity == conflict.High {
		s.WriteString("\nOne side would lose most of its data. Check before choosing.")
	}
	return s.String()
}

// PickResolution asks the user how to resolve rec. ok is false when the
// user left without choosing.
func PickResolution(rec conflict.Record) (r sync.Resolution, ok bool, err error) {
	p := tea.NewProgram(newResolveModel(rec, time.Now()))
	final, err := p.Run()
	if err != nil {
		return 0, false, fmt.Errorf("conflict picker failed: %w", err)
	}

	m := final.(resolveModel)
	if m.chosen == nil {
		return 0, false, nil
	}
	return *m.chosen, true, nil
}
