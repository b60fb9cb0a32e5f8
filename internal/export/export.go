// Package export renders a single session for people and other tools.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/rcliao/aime/internal/model"
)

// Exporter writes one session in a specific format.
type Exporter interface {
	Export(s *model.Session, w io.Writer) error
	Extension() string
}

// Formats lists the names NewExporter accepts.
var Formats = []string{"json", "jsonl", "yaml", "md"}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "jsonl":
		return &JSONLExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, jsonl, yaml, md)", format)
	}
}

// document is the human-oriented view used by the yaml exporter.
type document struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title,omitempty"`
	Start     string    `yaml:"start"`
	End       string    `yaml:"end,omitempty"`
	OriginURL string    `yaml:"origin_url,omitempty"`
	Platform  string    `yaml:"platform,omitempty"`
	OriginKey string    `yaml:"origin_key,omitempty"`
	Linked    []string  `yaml:"linked,omitempty"`
	Narrative string    `yaml:"narrative,omitempty"`
	Topics    []string  `yaml:"topics,omitempty"`
	Turns     []docTurn `yaml:"turns"`
}

type docTurn struct {
	Role    model.Role `yaml:"role"`
	Time    string     `yaml:"time"`
	Content string     `yaml:"content"`
}

func newDocument(s *model.Session) document {
	d := document{
		ID:        s.ID,
		Title:     s.Title,
		Start:     formatMillis(s.StartTime),
		OriginURL: s.OriginURL,
		Platform:  s.Platform,
		OriginKey: s.OriginKey,
		Linked:    s.Linked,
		Turns:     make([]docTurn, 0, len(s.Turns)),
	}
	if s.Closed() {
		d.End = formatMillis(s.EndTime)
	}
	if s.Summary != nil {
		d.Narrative = s.Summary.Narrative
		d.Topics = s.Summary.Semantic.Topics
	}
	for _, t := range s.Turns {
		d.Turns = append(d.Turns, docTurn{Role: t.Role, Time: formatMillis(t.Timestamp), Content: t.Content})
	}
	return d
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
