package serde

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"
)

const (
	magicByte  = 0
	headerSize = 5
)

var ErrWireFormat = errors.New("not confluent avro wire format")

// AvroSerializer encodes values with one schema registered under one subject.
type AvroSerializer struct {
	codec *goavro.Codec
	id    int
}

// NewAvroSerializer compiles schema and registers it under subject.
func NewAvroSerializer(ctx context.Context, registry Registry, subject, schema string) (*AvroSerializer, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", subject, err)
	}
	id, err := registry.Register(ctx, subject, schema)
	if err != nil {
		return nil, err
	}
	return &AvroSerializer{codec: codec, id: id}, nil
}

// SchemaID returns the registry id written in every encoded message.
func (s *AvroSerializer) SchemaID() int {
	return s.id
}

func (s *AvroSerializer) Serialize(_ string, v any) ([]byte, error) {
	native, err := toNative(v)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize, 64)
	buf[0] = magicByte
	binary.BigEndian.PutUint32(buf[1:headerSize], uint32(s.id))

	out, err := s.codec.BinaryFromNative(buf, native)
	if err != nil {
		return nil, fmt.Errorf("encode avro: %w", err)
	}
	return out, nil
}

// AvroDeserializer decodes Confluent-framed Avro, resolving writer schemas by id.
type AvroDeserializer struct {
	registry Registry

	mu     sync.RWMutex
	codecs map[int]*goavro.Codec
}

func NewAvroDeserializer(registry Registry) *AvroDeserializer {
	return &AvroDeserializer{
		registry: registry,
		codecs:   make(map[int]*goavro.Codec),
	}
}

// Deserialize fetches an unseen writer schema from the registry with ctx.
// Registry errors are returned as is so that callers can retry the record.
func (d *AvroDeserializer) Deserialize(ctx context.Context, _ string, data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < headerSize || data[0] != magicByte {
		return nil, &DecodeError{Err: ErrWireFormat}
	}

	id := int(binary.BigEndian.Uint32(data[1:headerSize]))
	codec, err := d.codec(ctx, id)
	if err != nil {
		return nil, err
	}

	native, _, err := codec.NativeFromBinary(data[headerSize:])
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("decode avro (schema %d): %w", id, err)}
	}
	return native, nil
}

func (d *AvroDeserializer) codec(ctx context.Context, id int) (*goavro.Codec, error) {
	d.mu.RLock()
	codec, ok := d.codecs[id]
	d.mu.RUnlock()
	if ok {
		return codec, nil
	}

	schema, err := d.registry.SchemaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	codec, err = goavro.NewCodec(schema)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("compile schema %d: %w", id, err)}
	}

	d.mu.Lock()
	d.codecs[id] = codec
	d.mu.Unlock()
	return codec, nil
}
