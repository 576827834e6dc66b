package station

import (
	"encoding/json"
	"testing"

	"github.com/edgeflare/stationstream/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDebeziumEnvelope(t *testing.T) {
	raw, err := testutil.LoadJSON("station_cdc.json")
	require.NoError(t, err)

	s, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, austin(), s)
}

func TestDecodeFlatJSONRow(t *testing.T) {
	data := []byte(`{"stop_id":30001,"direction_id":"E","stop_name":"Austin (O'Hare-bound)",
		"station_name":"Austin","station_descriptive_name":"Austin (Blue Line)",
		"station_id":40360,"order":1,"red":false,"blue":true,"green":false}`)

	var v any
	require.NoError(t, json.Unmarshal(data, &v))

	s, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, austin(), s)
}

func TestDecodeEnvelopeWithoutSchema(t *testing.T) {
	v := map[string]any{
		"op": "c",
		"after": map[string]any{
			"station_id":   float64(40380),
			"station_name": "Clark/Lake",
			"order":        float64(3),
			"green":        true,
		},
	}

	s, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, 40380, s.StationID)
	assert.True(t, s.Green)
}

func TestDecodeAvroNative(t *testing.T) {
	// goavro hands back int32 for "int" and wraps nullable fields in unions.
	v := map[string]any{
		"stop_id":                  int32(30001),
		"direction_id":             map[string]any{"string": "E"},
		"stop_name":                "Austin (O'Hare-bound)",
		"station_name":             "Austin",
		"station_descriptive_name": map[string]any{"string": "Austin (Blue Line)"},
		"station_id":               int32(40360),
		"order":                    int32(1),
		"red":                      false,
		"blue":                     true,
		"green":                    false,
	}

	s, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, austin(), s)
}

func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input any
		is    error
	}{
		{name: "not a map", input: "station", is: ErrNotARecord},
		{name: "delete event", input: map[string]any{"op": "d", "after": nil, "before": map[string]any{"station_id": 1}}, is: ErrTombstone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.input)
			var terr *TransformError
			require.ErrorAs(t, err, &terr)
			assert.ErrorIs(t, err, tc.is)
		})
	}

	t.Run("wrong field type", func(t *testing.T) {
		_, err := Decode(map[string]any{"station_id": "not-a-number"})
		var terr *TransformError
		assert.ErrorAs(t, err, &terr)
	})
}

func TestDecodeTransformed(t *testing.T) {
	ts, err := DecodeTransformed(map[string]any{
		"station_id":   float64(40360),
		"station_name": "Austin",
		"order":        float64(1),
		"line":         "blue",
	})
	require.NoError(t, err)
	assert.Equal(t, Transform(austin()), ts)

	_, err = DecodeTransformed(map[string]any{"line": "red"})
	assert.ErrorIs(t, err, ErrMissingStationID)
}
