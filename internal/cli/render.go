package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rcliao/aime/internal/memory"
	"github.com/rcliao/aime/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// sessionRow is one line of a session table. Score is omitted when negative.
type sessionRow struct {
	Session *model.Session
	Score   float64
}

func formatWhen(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	t := time.UnixMilli(ms)
	switch diff := now.Sub(t); {
	case diff >= 0 && diff < 24*time.Hour:
		return t.Format("Today 15:04")
	case diff >= 0 && diff < 7*24*time.Hour:
		return t.Format("Mon 15:04")
	case diff >= 0 && diff < 365*24*time.Hour:
		return t.Format("Jan 02 15:04")
	default:
		return t.Format("2006-01-02")
	}
}

func shorten(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}

func renderSessions(w io.Writer, heading string, rows []sessionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, headerStyle.Render(heading+": none"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%d)", heading, len(rows))))
	fmt.Fprintln(w)

	withScore := rows[0].Score >= 0
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	cols := []string{"ID", "Title", "Turns", "Started"}
	if withScore {
		cols = append(cols, "Score")
	}
	for i, c := range cols {
		cols[i] = titleStyle.Render(c)
	}
	fmt.Fprintln(tw, strings.Join(cols, "\t")+"\t")

	now := time.Now()
	for _, r := range rows {
		title := r.Session.Title
		if title == "" {
			title = "Untitled"
		}
		line := []string{
			idStyle.Render(r.Session.ID),
			shorten(title, 50),
			countStyle.Render(strconv.Itoa(len(r.Session.Turns))),
			dateStyle.Render(formatWhen(r.Session.StartTime, now)),
		}
		if withScore {
			line = append(line, scoreStyle.Render(fmt.Sprintf("%.3f", r.Score)))
		}
		fmt.Fprintln(tw, strings.Join(line, "\t")+"\t")
	}
	tw.Flush()
}

func renderStats(w io.Writer, st memory.Stats, dbPath string) {
	fmt.Fprintln(w, headerStyle.Render("Memory"))
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", titleStyle.Render("Database"), dbPath)
	fmt.Fprintf(tw, "%s\t%s\n", titleStyle.Render("Sessions"), countStyle.Render(strconv.Itoa(st.Count)))
	fmt.Fprintf(tw, "%s\t%s\n", titleStyle.Render("Turns"), countStyle.Render(strconv.Itoa(st.TurnCount)))
	fmt.Fprintf(tw, "%s\t%s\n", titleStyle.Render("Concepts"), countStyle.Render(strconv.Itoa(st.ConceptCount)))
	fmt.Fprintf(tw, "%s\t%d bytes\n", titleStyle.Render("Size"), st.TotalBytes)
	fmt.Fprintf(tw, "%s\t%s .. %s\n", titleStyle.Render("Range"),
		dateStyle.Render(formatWhen(st.OldestStart, now)), dateStyle.Render(formatWhen(st.NewestStart, now)))
	tw.Flush()
}

func renderConcepts(w io.Writer, concepts []memory.ConceptSummary) {
	if len(concepts) == 0 {
		fmt.Fprintln(w, headerStyle.Render("Concepts: none"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Concepts (%d)", len(concepts))))
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, c := range concepts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			idStyle.Render(string(c.Type)),
			shorten(c.Content, 60),
			countStyle.Render(strconv.Itoa(c.Frequency)),
			dateStyle.Render(strings.Join(c.SessionRefs, ",")))
	}
	tw.Flush()
}
