package export

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/aime/internal/model"
)

// YAMLExporter writes a readable YAML document of the session.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(s *model.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(newDocument(s))
}

func (e *YAMLExporter) Extension() string { return "yaml" }
