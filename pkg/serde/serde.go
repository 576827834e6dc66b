// Package serde encodes and decodes topic keys and values. JSON is the
// default; Avro uses the Confluent wire format (magic byte, 4-byte schema id,
// Avro binary) with schemas held by a schema registry.
package serde

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Serializer encodes a key or value for a topic.
type Serializer interface {
	Serialize(topic string, v any) ([]byte, error)
}

// Deserializer decodes a key or value read from a topic into generic Go
// values (maps, strings, numbers, bools). A payload that is not valid in the
// deserializer's format yields a *DecodeError; any other error, such as a
// schema registry that cannot be reached, says nothing about the payload.
type Deserializer interface {
	Deserialize(ctx context.Context, topic string, data []byte) (any, error)
}

// DecodeError reports a payload that cannot be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Registry is the schema registry surface the Avro serde needs.
type Registry interface {
	Register(ctx context.Context, subject, schema string) (int, error)
	SchemaByID(ctx context.Context, id int) (string, error)
}

// Format names accepted in configuration.
const (
	FormatJSON = "json"
	FormatAvro = "avro"
)

// JSON is the plain JSON serde.
type JSON struct{}

func (JSON) Serialize(_ string, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (JSON) Deserialize(_ context.Context, _ string, data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("decode json: %w", err)}
	}
	return v, nil
}

// NewSerializer returns an Avro serializer registered under subject when schema
// is set, and JSON otherwise.
func NewSerializer(ctx context.Context, registry Registry, subject, schema string) (Serializer, error) {
	if schema == "" {
		return JSON{}, nil
	}
	if registry == nil {
		return nil, fmt.Errorf("subject %s: avro schema requires a schema registry", subject)
	}
	return NewAvroSerializer(ctx, registry, subject, schema)
}

// NewDeserializer returns the deserializer for a configured format.
func NewDeserializer(format string, registry Registry) (Deserializer, error) {
	switch format {
	case FormatJSON, "":
		return JSON{}, nil
	case FormatAvro:
		if registry == nil {
			return nil, fmt.Errorf("avro format requires a schema registry")
		}
		return NewAvroDeserializer(registry), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// toNative converts structs to the map form goavro expects, using their
// mapstructure tags as field names. Other values pass through.
func toNative(v any) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return v, nil
	}

	out := map[string]any{}
	if err := mapstructure.Decode(rv.Interface(), &out); err != nil {
		return nil, fmt.Errorf("convert %T to avro native: %w", v, err)
	}
	return out, nil
}
