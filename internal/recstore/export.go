package recstore

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// WriteYAML writes the current document as YAML.
//
// The document goes through its JSON form first so that key names and record
// order match the backing file.
func (s *Store[T]) WriteYAML(w io.Writer) error {
	doc := s.m.Read()
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to convert document: %w", err)
	}
	plainStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to write YAML: %w", err)
	}
	return enc.Close()
}

// plainStyle drops the flow and quoting styles inherited from JSON.
func plainStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plainStyle(c)
	}
}
