package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Decode reads a YAML storage descriptor. The "type" key selects the variant, the
// remaining keys are the variant's fields:
//
//	type: docker
//	registry_url: registry.example.com
//	image_name: etl
//	image_tag: "2024.06"
//	flows:
//	  etl: /root/.prefect/flows/etl.prefect
func Decode(r io.Reader) (Storage, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("storage descriptor is empty")
		}
		return nil, fmt.Errorf("failed to parse storage descriptor: %w", err)
	}

	var kind struct {
		Type Kind `yaml:"type"`
	}
	if err := root.Decode(&kind); err != nil {
		return nil, fmt.Errorf("failed to parse storage descriptor: %w", err)
	}

	var target Storage
	switch kind.Type {
	case KindDocker:
		target = &Docker{}
	case KindLocal:
		target = &Local{}
	case KindMemory:
		target = &Memory{}
	case "":
		return nil, fmt.Errorf("storage descriptor has no type")
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind.Type)
	}

	if err := decodeVariant(&root, target); err != nil {
		return nil, fmt.Errorf("invalid %s storage descriptor: %w", kind.Type, err)
	}

	if v, ok := target.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	return target, nil
}

// decodeVariant decodes every key but "type" into out, rejecting unknown keys.
func decodeVariant(root *yaml.Node, out interface{}) error {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping")
	}

	fields := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "type" {
			continue
		}
		fields.Content = append(fields.Content, doc.Content[i], doc.Content[i+1])
	}

	raw, err := yaml.Marshal(fields)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Encode writes s as a YAML descriptor readable by Decode.
func Encode(w io.Writer, s Storage) error {
	if s == nil {
		return fmt.Errorf("storage is nil")
	}

	var fields yaml.Node
	if err := fields.Encode(s); err != nil {
		return fmt.Errorf("failed to encode storage: %w", err)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	doc.Content = append(doc.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "type"},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(s.Kind())},
	)
	doc.Content = append(doc.Content, fields.Content...)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode storage: %w", err)
	}
	return enc.Close()
}
