package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rcliao/aime/internal/model"
)

// JSONExporter writes the full session record, pretty-printed.
type JSONExporter struct{}

func (e *JSONExporter) Export(s *model.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func (e *JSONExporter) Extension() string { return "json" }

// JSONLExporter writes one turn per line in the shape `aime ingest` reads.
type JSONLExporter struct{}

func (e *JSONLExporter) Export(s *model.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, t := range s.Turns {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("encode turn %d: %w", t.Index, err)
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string { return "jsonl" }
