package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLCodec writes YAML using the same field names as the JSON output
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Export writes v as YAML. The value goes through its JSON encoding first so
// json tags and MarshalJSON methods decide the shape; JSON is valid YAML, so
// decoding it into a node keeps field order.
func (c *YAMLCodec) Export(v interface{}, w io.Writer) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	clearStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}
	return enc.Close()
}

// clearStyle drops the flow and quoting styles inherited from JSON
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		clearStyle(child)
	}
}
