package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// record is the canonical on-disk shape of a target.
type record struct {
	URL       string  `json:"url" yaml:"url"`
	LastState *string `json:"last_state" yaml:"last_state"`
}

func (t Target) toRecord() record {
	rec := record{URL: t.URL}
	if t.LastStatus != StatusNone {
		label := string(t.LastStatus)
		rec.LastState = &label
	}
	return rec
}

func (r record) toTarget() Target {
	target := Target{URL: r.URL}
	if r.LastState != nil {
		target.LastStatus = ParseStatus(*r.LastState)
	}
	return target
}

// MarshalJSON implements json.Marshaler.
func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toRecord())
}

// UnmarshalJSON accepts either a bare URL string or a {url, last_state} object.
func (t *Target) UnmarshalJSON(data []byte) error {
	var locator string
	if err := json.Unmarshal(data, &locator); err == nil {
		*t = Target{URL: locator}
		return nil
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("target must be a url string or an object: %w", err)
	}
	*t = rec.toTarget()
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t Target) MarshalYAML() (interface{}, error) {
	return t.toRecord(), nil
}

// UnmarshalYAML accepts either a bare URL scalar or a {url, last_state} mapping.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Tag == "!!null" {
			*t = Target{}
			return nil
		}
		*t = Target{URL: node.Value}
		return nil
	}

	var rec record
	if err := node.Decode(&rec); err != nil {
		return fmt.Errorf("target must be a url string or a mapping: %w", err)
	}
	*t = rec.toTarget()
	return nil
}

// codec encodes the flat name -> target document.
type codec interface {
	decode(data []byte) (map[string]Target, error)
	encode(targets map[string]Target) ([]byte, error)
}

func codecFor(path string) codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	default:
		return jsonCodec{}
	}
}

type jsonCodec struct{}

func (jsonCodec) decode(data []byte) (map[string]Target, error) {
	targets := map[string]Target{}
	if len(bytes.TrimSpace(data)) == 0 {
		return targets, nil
	}
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, err
	}
	if targets == nil {
		targets = map[string]Target{}
	}
	return targets, nil
}

func (jsonCodec) encode(targets map[string]Target) ([]byte, error) {
	data, err := json.MarshalIndent(targets, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type yamlCodec struct{}

func (yamlCodec) decode(data []byte) (map[string]Target, error) {
	targets := map[string]Target{}
	if err := yaml.Unmarshal(data, &targets); err != nil {
		return nil, err
	}
	if targets == nil {
		targets = map[string]Target{}
	}
	return targets, nil
}

func (yamlCodec) encode(targets map[string]Target) ([]byte, error) {
	if len(targets) == 0 {
		return []byte("{}\n"), nil
	}
	return yaml.Marshal(targets)
}
