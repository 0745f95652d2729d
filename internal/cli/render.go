package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/CrowderSoup/kanban-sync/api"
	"github.com/CrowderSoup/kanban-sync/board"
	"github.com/CrowderSoup/kanban-sync/events"
	"github.com/CrowderSoup/kanban-sync/notify"
)

const columnWidth = 28

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	overdue     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(columnWidth)
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("240")).
			Width(columnWidth - 2)

	toastStyles = map[notify.Kind]lipgloss.Style{
		notify.Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		notify.Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		notify.Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		notify.Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// renderBoard lays the lists out side by side.
func renderBoard(b board.Board, now time.Time) string {
	cols := make([]string, 0, len(b.Lists))
	for _, l := range b.Lists {
		cols = append(cols, renderList(l, now))
	}
	header := titleStyle.Render(b.Title) + " " + mutedStyle.Render(b.ID)
	if len(cols) == 0 {
		return header + "\n" + mutedStyle.Render("(no lists)") + "\n"
	}
	return header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, cols...) + "\n"
}

func renderList(l board.List, now time.Time) string {
	parts := []string{titleStyle.Render(l.Title) + " " + mutedStyle.Render(fmt.Sprintf("(%d)", len(l.Cards)))}
	for _, c := range l.Cards {
		parts = append(parts, cardStyle.Render(renderCard(c, now)))
	}
	return columnStyle.Render(strings.Join(parts, "\n"))
}

func renderCard(c board.Card, now time.Time) string {
	lines := []string{c.Title}
	var meta []string
	if len(c.Labels) > 0 {
		names := make([]string, 0, len(c.Labels))
		for _, lb := range c.Labels {
			style := lipgloss.NewStyle()
			if lb.Color != "" {
				style = style.Foreground(lipgloss.Color(lb.Color))
			}
			names = append(names, style.Render("#"+lb.Name))
		}
		meta = append(meta, strings.Join(names, " "))
	}
	if due := dueText(c.DueDate, now); due != "" {
		meta = append(meta, due)
	}
	if done, total := c.Progress(); total > 0 {
		meta = append(meta, fmt.Sprintf("[%d/%d]", done, total))
	}
	if len(meta) > 0 {
		lines = append(lines, strings.Join(meta, " "))
	}
	lines = append(lines, mutedStyle.Render(c.ID))
	return strings.Join(lines, "\n")
}

func dueText(d board.DueWindow, now time.Time) string {
	if d.End == nil {
		if d.Start == nil {
			return ""
		}
		return mutedStyle.Render("starts " + humanize.RelTime(*d.Start, now, "ago", "from now"))
	}
	text := "due " + humanize.RelTime(*d.End, now, "ago", "from now")
	if d.End.Before(now) {
		return overdue.Render(text)
	}
	return mutedStyle.Render(text)
}

func renderBoards(boards []api.BoardSummary, now time.Time) string {
	if len(boards) == 0 {
		return mutedStyle.Render("No boards yet. Create one with `boardctl create-board <title>`.") + "\n"
	}
	var sb strings.Builder
	for _, b := range boards {
		fmt.Fprintf(&sb, "%s  %s  %s %s\n",
			mutedStyle.Render(b.ID),
			titleStyle.Render(b.Title),
			mutedStyle.Render(b.Role+","),
			mutedStyle.Render("updated "+humanize.RelTime(b.UpdatedAt, now, "ago", "from now")))
	}
	return sb.String()
}

func renderPresence(users []events.Actor) string {
	if len(users) == 0 {
		return ""
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	return mutedStyle.Render("Here now: "+strings.Join(names, ", ")) + "\n"
}
