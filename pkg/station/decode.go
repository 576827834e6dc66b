package station

import (
	"fmt"
	"strings"

	"github.com/edgeflare/stationstream/pkg/pipeline/cdc"
	"github.com/mitchellh/mapstructure"
)

// Decode turns a deserialized inbound value into a Station. It accepts flat
// rows as well as change envelopes, with or without the schema wrapper, and
// Avro-native maps where nullable fields arrive as single-entry unions.
func Decode(v any) (Station, error) {
	row, err := rowOf(v)
	if err != nil {
		return Station{}, err
	}

	var s Station
	if err := decode(row, &s); err != nil {
		return Station{}, &TransformError{Err: err}
	}
	return s, nil
}

// DecodeTransformed turns a deserialized changelog value back into a TransformedStation.
func DecodeTransformed(v any) (TransformedStation, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return TransformedStation{}, &TransformError{Err: fmt.Errorf("%w: got %T", ErrNotARecord, v)}
	}

	var ts TransformedStation
	if err := decode(unwrapUnions(m), &ts); err != nil {
		return TransformedStation{}, &TransformError{Err: err}
	}
	if ts.StationID <= 0 {
		return TransformedStation{}, &TransformError{Err: ErrMissingStationID}
	}
	return ts, nil
}

func rowOf(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &TransformError{Err: fmt.Errorf("%w: got %T", ErrNotARecord, v)}
	}
	m = unwrapUnions(m)
	if !cdc.IsEnvelope(m) {
		return m, nil
	}

	src := m
	if p, ok := m["payload"].(map[string]any); ok {
		src = unwrapUnions(p)
	}

	var payload cdc.Payload
	if err := decode(src, &payload); err != nil {
		return nil, &TransformError{Err: fmt.Errorf("decode change envelope: %w", err)}
	}

	row, ok := payload.Row()
	if !ok {
		return nil, &TransformError{Err: fmt.Errorf("%w: op %q", ErrTombstone, payload.Op)}
	}
	return unwrapUnions(row), nil
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var avroPrimitives = map[string]bool{
	"null": true, "boolean": true, "int": true, "long": true,
	"float": true, "double": true, "bytes": true, "string": true,
}

func unwrapUnions(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = unwrapUnion(v)
	}
	return out
}

// unwrapUnion collapses a goavro union value ({"type": value}) to its value.
// Named record branches carry a dotted full name.
func unwrapUnion(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	for k, inner := range m {
		if avroPrimitives[k] || strings.Contains(k, ".") {
			return inner
		}
	}
	return v
}
