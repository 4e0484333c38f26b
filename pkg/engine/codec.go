package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var flowValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeFlow deserializes a flow artifact.
// Unknown fields are rejected, the flow is validated and its task graph must be acyclic
// with every dependency resolvable.
func DecodeFlow(data []byte) (*Flow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("flow artifact is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var flow Flow
	if err := dec.Decode(&flow); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("flow artifact is empty")
		}
		return nil, fmt.Errorf("failed to decode flow: %w", err)
	}

	if err := ValidateFlow(&flow); err != nil {
		return nil, err
	}

	return &flow, nil
}

// ValidateFlow checks field constraints and the shape of the task graph.
func ValidateFlow(flow *Flow) error {
	if err := flowValidator.Struct(flow); err != nil {
		return fmt.Errorf("flow validation failed: %w", err)
	}

	if _, err := NewDAGBuilder().BuildGraph(flow.Tasks); err != nil {
		return err
	}

	return nil
}

// EncodeFlow serializes a flow into the artifact format read by DecodeFlow.
func EncodeFlow(w io.Writer, flow *Flow) error {
	if err := ValidateFlow(flow); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(flow); err != nil {
		return fmt.Errorf("failed to encode flow: %w", err)
	}
	return enc.Close()
}
