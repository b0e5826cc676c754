package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"habitsync/internal/conflict"
	"habitsync/internal/device"
	"habitsync/internal/queue"
	"habitsync/internal/store"
	"habitsync/internal/sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// GetTerminalWidth returns the current terminal width, defaulting to 80 if unable to detect
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return width
}

// StatusReport is everything `sync status` shows
type StatusReport struct {
	Status      sync.Status        `json:"status" yaml:"status"`
	Remote      string             `json:"remote,omitempty" yaml:"remote,omitempty"`
	Device      device.Record      `json:"device" yaml:"device"`
	Pending     []queue.Intent     `json:"pending" yaml:"pending"`
	LastSuccess *sync.HistoryEntry `json:"last_success,omitempty" yaml:"last_success,omitempty"`
	Records     int                `json:"records" yaml:"records"`
	DBSize      int64              `json:"db_size" yaml:"db_size"`
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(14)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("36")).Padding(0, 1)

	stateStyles = map[sync.State]lipgloss.Style{
		sync.StateIdle:                 lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		sync.StateSyncing:              lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		sync.StateSuccess:              lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		sync.StateFailed:               lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		sync.StateSimulatorBlocked:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		sync.StateConflictDetected:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		sync.StateAwaitingUserDecision: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
)

// RenderStatus formats r for the terminal. now anchors relative times.
func RenderStatus(r StatusReport, now time.Time, color bool) string {
	render := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}
	line := func(b *strings.Builder, label, value string) {
		if color {
			label = labelStyle.Render(label)
		} else {
			label = fmt.Sprintf("%-14s", label)
		}
		fmt.Fprintf(b, "%s%s\n", label, value)
	}

	var b strings.Builder
	b.WriteString(render(headerStyle, "Sync Status"))
	b.WriteString("\n")

	state := r.Status.State.String()
	if style, ok := stateStyles[r.Status.State]; ok {
		state = render(style, state)
	}
	line(&b, "State", state)
	if r.Status.Message != "" {
		line(&b, "", r.Status.Message)
	}

	if r.Remote != "" {
		line(&b, "Remote", r.Remote)
	} else {
		line(&b, "Remote", render(mutedStyle, "not configured"))
	}

	dev := r.Device.Name
	if r.Device.ID != "" {
		dev = fmt.Sprintf("%s (%s)", r.Device.Name, ShortID(r.Device.ID))
	}
	line(&b, "Device", dev)

	if r.LastSuccess != nil {
		line(&b, "Last sync", humanize.RelTime(r.LastSuccess.FinishedAt, now, "ago", "from now"))
	} else {
		line(&b, "Last sync", "never")
	}

	line(&b, "Records", humanize.Comma(int64(r.Records)))
	if r.DBSize > 0 {
		line(&b, "Database", humanize.Bytes(uint64(r.DBSize)))
	}
	line(&b, "Queued", fmt.Sprintf("%d", len(r.Pending)))

	if c := r.Status.Conflict; c != nil {
		b.WriteString("\n")
		b.WriteString(RenderConflict(*c, now, color))
	}

	return b.String()
}

// RenderConflict describes a pending conflict in a box
func RenderConflict(c conflict.Record, now time.Time, color bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cloud data from %s", c.RemoteLabel())
	if !c.RemoteSyncedAt.IsZero() {
		fmt.Fprintf(&b, ", uploaded %s", humanize.RelTime(c.RemoteSyncedAt, now, "ago", "from now"))
	}
	fmt.Fprintf(&b, "\nThis device: %s records, cloud: %s records", humanize.Comma(int64(c.LocalRecordCount)), humanize.Comma(int64(c.RemoteRecordCount)))
	fmt.Fprintf(&b, "\nSeverity: %s", c.Severity)
	b.WriteString("\nResolve with: habitsync sync --resolve this-device|cloud|cancel")

	if !color {
		return b.String() + "\n"
	}
	return boxStyle.Render(b.String()) + "\n"
}

// RenderQueue lists pending intents
func RenderQueue(intents []queue.Intent, now time.Time) string {
	if len(intents) == 0 {
		return "No pending sync intents\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pending sync intents (%d):\n\n", len(intents))
	for _, in := range intents {
		fmt.Fprintf(&b, "  %-5s %-10s queued %s", in.Kind, in.State, humanize.RelTime(in.EnqueuedAt, now, "ago", "from now"))
		if in.Trigger != "" {
			fmt.Fprintf(&b, " by %s", in.Trigger)
		}
		if in.AttemptCount > 0 {
			fmt.Fprintf(&b, " (%d attempt%s)", in.AttemptCount, plural(in.AttemptCount))
		}
		b.WriteString("\n")
		if in.LastError != "" {
			fmt.Fprintf(&b, "        last error: %s\n", in.LastError)
		}
	}
	return b.String()
}

// RenderHistory lists recent sync runs
func RenderHistory(entries []sync.HistoryEntry, now time.Time) string {
	if len(entries) == 0 {
		return "No sync history\n"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "  %-14s %-9s %s", humanize.RelTime(e.FinishedAt, now, "ago", "from now"), e.Outcome, e.Trigger)
		if e.Message != "" {
			fmt.Fprintf(&b, ": %s", e.Message)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ShowHabits prints habits with their progress, sized to the terminal
func ShowHabits(habits []store.Habit, dateFormat string) {
	fmt.Print(RenderHabits(habits, dateFormat, GetTerminalWidth()))
}

// RenderHabits formats habits inside a box no wider than width
func RenderHabits(habits []store.Habit, dateFormat string, width int) string {
	if len(habits) == 0 {
		return "No habits yet. Add one with: habitsync habit add <name>\n"
	}

	borderWidth := width - 4
	if borderWidth < 40 {
		borderWidth = 40
	}
	if borderWidth > 100 {
		borderWidth = 100
	}

	var b strings.Builder
	for i, h := range habits {
		fmt.Fprintf(&b, "%2d. %-30s", i+1, h.Template.Name)
		if h.Instance != nil {
			fmt.Fprintf(&b, " %d/%s", h.Instance.TargetPerPeriod, h.Instance.Period)
		} else {
			b.WriteString(" ended")
		}
		fmt.Fprintf(&b, "  %s done", humanize.Comma(int64(h.Completions)))
		if h.LastCompleted != nil {
			fmt.Fprintf(&b, ", last %s", h.LastCompleted.Format(dateFormat))
		}
		if h.Template.Description != "" {
			fmt.Fprintf(&b, "\n    %s", h.Template.Description)
		}
		if i < len(habits)-1 {
			b.WriteString("\n")
		}
	}

	return boxStyle.Width(borderWidth).Render(headerStyle.Render("Habits")+"\n"+b.String()) + "\n"
}

// ShortID abbreviates a device ID for display
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
