package protocol

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FromYAML decodes a YAML mapping into a Map, keeping document key order.
// Scalars become strings and null becomes the null marker.
func FromYAML(data []byte) (*Map, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrRootNotMap)
	}

	value, err := fromNode(doc.Content[0])
	if err != nil {
		return nil, err
	}
	m, ok := value.(*Map)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrRootNotMap, value)
	}
	return m, nil
}

func fromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if !tagPattern.MatchString(key) {
				return nil, fmt.Errorf("%w: %q at line %d", ErrInvalidTag, key, node.Content[i].Line)
			}
			v, err := fromNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			m.Set(key, v)
		}
		return m, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return node.Value, nil
	case yaml.AliasNode:
		return fromNode(node.Alias)
	default:
		return nil, fmt.Errorf("unsupported yaml node at line %d", node.Line)
	}
}
