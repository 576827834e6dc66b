package station

import (
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
)

func austin() Station {
	return Station{
		StopID:                 30001,
		DirectionID:            "E",
		StopName:               "Austin (O'Hare-bound)",
		StationName:            "Austin",
		StationDescriptiveName: "Austin (Blue Line)",
		StationID:              40360,
		Order:                  1,
		Blue:                   true,
	}
}

func TestTransformAustin(t *testing.T) {
	got := Transform(austin())

	assert.Equal(t, TransformedStation{
		StationID:   40360,
		StationName: "Austin",
		Order:       1,
		Line:        LineBlue,
	}, got)
}

func TestTransformSingleFlag(t *testing.T) {
	testCases := []struct {
		name             string
		red, blue, green bool
		want             string
	}{
		{name: "red only", red: true, want: LineRed},
		{name: "blue only", blue: true, want: LineBlue},
		{name: "green only", green: true, want: LineGreen},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := Station{StationID: 40900, StationName: "Howard", Order: 7, Red: tc.red, Blue: tc.blue, Green: tc.green}
			got := Transform(s)

			assert.Equal(t, tc.want, got.Line)
			assert.Equal(t, s.StationID, got.StationID)
			assert.Equal(t, s.StationName, got.StationName)
			assert.Equal(t, s.Order, got.Order)
		})
	}
}

// Multiple flags resolve red > blue > green.
func TestTransformPrecedence(t *testing.T) {
	testCases := []struct {
		name             string
		red, blue, green bool
		want             string
	}{
		{name: "red and blue", red: true, blue: true, want: LineRed},
		{name: "red and green", red: true, green: true, want: LineRed},
		{name: "blue and green", blue: true, green: true, want: LineBlue},
		{name: "all three", red: true, blue: true, green: true, want: LineRed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Transform(Station{StationID: 41400, Red: tc.red, Blue: tc.blue, Green: tc.green})
			assert.Equal(t, tc.want, got.Line)
		})
	}
}

func TestTransformFallbackIsGreen(t *testing.T) {
	got := Transform(Station{StationID: 40020, StationName: "Harlem/Lake", Order: 0})
	assert.Equal(t, LineGreen, got.Line)
}

func TestTransformIsDeterministic(t *testing.T) {
	s := austin()
	assert.Equal(t, Transform(s), Transform(s))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, austin().Validate())

	err := Station{StationName: "nowhere"}.Validate()
	var terr *TransformError
	assert.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, ErrMissingStationID)
}

func TestSchemasCompile(t *testing.T) {
	for name, schema := range map[string]string{"key": KeySchema, "station": Schema, "transformed": TransformedSchema} {
		_, err := goavro.NewCodec(schema)
		assert.NoError(t, err, name)
	}
}
