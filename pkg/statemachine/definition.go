package statemachine

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Definition is the declarative form of a state machine.
type Definition struct {
	Initial     string          `yaml:"initial" json:"initial"`
	Idle        string          `yaml:"idle" json:"idle"`
	States      []StateDef      `yaml:"states" json:"states"`
	Transitions []TransitionDef `yaml:"transitions" json:"transitions"`
}

// StateDef declares a state; states with children are groups.
type StateDef struct {
	Name     string     `yaml:"name" json:"name"`
	Initial  string     `yaml:"initial,omitempty" json:"initial,omitempty"`
	Children []StateDef `yaml:"children,omitempty" json:"children,omitempty"`
}

// TransitionDef declares a transition. Guard names a predicate supplied at
// compile time.
type TransitionDef struct {
	From    string `yaml:"from" json:"from"`
	Trigger string `yaml:"trigger" json:"trigger"`
	To      string `yaml:"to" json:"to"`
	Guard   string `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// DefinitionSchema is the JSON schema state tables are validated against.
const DefinitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["initial", "idle", "states", "transitions"],
  "additionalProperties": false,
  "properties": {
    "initial": {"type": "string", "minLength": 1},
    "idle": {"type": "string", "minLength": 1},
    "states": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/state"}
    },
    "transitions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "trigger", "to"],
        "additionalProperties": false,
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "trigger": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "guard": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "state": {
      "type": "object",
      "required": ["name"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_-]*$"},
        "initial": {"type": "string"},
        "children": {
          "type": "array",
          "items": {"$ref": "#/definitions/state"}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(DefinitionSchema)

// ParseDefinition validates a YAML (or JSON) table against DefinitionSchema
// and decodes it.
func ParseDefinition(data []byte) (Definition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("failed to parse definition: %w", err)
	}

	if err := validateSchema(raw); err != nil {
		return Definition{}, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("failed to decode definition: %w", err)
	}
	return def, nil
}

// LoadDefinition reads and parses a table file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read definition: %w", err)
	}
	return ParseDefinition(data)
}

func validateSchema(doc any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: schema validation error: %v", ErrInvalidDefinition, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(msgs, "; "))
	}
	return nil
}
