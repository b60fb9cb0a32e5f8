package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/rcliao/aime/internal/model"
)

// MarkdownExporter writes the session as a Markdown transcript.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(s *model.Session, w io.Writer) error {
	d := newDocument(s)
	title := d.Title
	if title == "" {
		title = "Session " + d.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**ID:** %s  \n", d.ID)
	fmt.Fprintf(&b, "**Started:** %s  \n", d.Start)
	if d.End != "" {
		fmt.Fprintf(&b, "**Ended:** %s  \n", d.End)
	}
	if d.Platform != "" {
		fmt.Fprintf(&b, "**Platform:** %s  \n", d.Platform)
	}
	if d.OriginURL != "" {
		fmt.Fprintf(&b, "**Origin:** %s  \n", d.OriginURL)
	}
	if len(d.Linked) > 0 {
		fmt.Fprintf(&b, "**Merged from:** %s  \n", strings.Join(d.Linked, ", "))
	}
	fmt.Fprintf(&b, "**Turns:** %d\n\n", len(d.Turns))

	if d.Narrative != "" {
		fmt.Fprintf(&b, "> %s\n\n", d.Narrative)
	}
	if len(d.Topics) > 0 {
		fmt.Fprintf(&b, "**Topics:** %s\n\n", strings.Join(d.Topics, ", "))
	}

	b.WriteString("---\n\n")
	for i, t := range d.Turns {
		fmt.Fprintf(&b, "**%s:** (%s)\n\n%s\n\n", t.Role, t.Time, escapeMarkdown(t.Content))
		if i < len(d.Turns)-1 {
			b.WriteString("---\n\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (e *MarkdownExporter) Extension() string { return "md" }

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", `\*\*`)
		lines[i] = strings.ReplaceAll(line, "__", `\_\_`)
	}
	return strings.Join(lines, "\n")
}
