package plan

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/planwright/failure"
)

// Format is a plan serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks a format from a file extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses and validates a plan.
func Decode(data []byte, format Format) (*ImplementationPlan, error) {
	var p ImplementationPlan
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, failure.PlanInvalid(fmt.Sprintf("decode %s", format), err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode serializes a plan.
func Encode(p *ImplementationPlan, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(p)
	default:
		return json.MarshalIndent(p, "", "  ")
	}
}

// Load reads and validates a plan file.
func Load(fs afero.Fs, path string) (*ImplementationPlan, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, failure.IOFailure("load_plan", path, err)
	}
	return Decode(data, FormatFor(path))
}

// Save writes a plan file in the format implied by its extension.
func Save(fs afero.Fs, path string, p *ImplementationPlan) error {
	data, err := Encode(p, FormatFor(path))
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return failure.IOFailure("save_plan", path, err)
		}
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return failure.IOFailure("save_plan", path, err)
	}
	return nil
}
