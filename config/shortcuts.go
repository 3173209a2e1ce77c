package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/obs-commander/command"
)

// LoadShortcuts reads shortcut definitions from a YAML or JSON file. The
// document is either a list of definitions or a mapping with a "shortcuts"
// list. An empty path yields no shortcuts.
func LoadShortcuts(path string) ([]command.ShortcutDef, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read shortcuts file: %w", err)
	}
	return ParseShortcuts(b)
}

// ParseShortcuts decodes shortcut definitions. Unknown permission names are
// an error.
func ParseShortcuts(b []byte) ([]command.ShortcutDef, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse shortcuts: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]

	var defs []command.ShortcutDef
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&defs); err != nil {
			return nil, fmt.Errorf("parse shortcuts: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Shortcuts []command.ShortcutDef `yaml:"shortcuts"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("parse shortcuts: %w", err)
		}
		defs = wrapped.Shortcuts
	default:
		return nil, errors.New("parse shortcuts: expected a list or a mapping with a shortcuts key")
	}

	for i, d := range defs {
		if d.Token == "" || d.Base == "" {
			return nil, fmt.Errorf("shortcut %d (%q): command and base_command are required", i, d.Name)
		}
		if d.Name == "" {
			defs[i].Name = d.Token
		}
	}
	return defs, nil
}
