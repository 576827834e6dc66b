// Package station holds the transit station records that flow through the
// stream and the transformation that tags each station with its line.
package station

import (
	"errors"
	"fmt"
)

// Line labels derived from the colour flags of a Station.
const (
	LineRed   = "red"
	LineBlue  = "blue"
	LineGreen = "green"
)

// Station is the inbound record published by the upstream change-data-capture connector.
type Station struct {
	StopID                 int    `json:"stop_id" mapstructure:"stop_id"`
	DirectionID            string `json:"direction_id" mapstructure:"direction_id"`
	StopName               string `json:"stop_name" mapstructure:"stop_name"`
	StationName            string `json:"station_name" mapstructure:"station_name"`
	StationDescriptiveName string `json:"station_descriptive_name" mapstructure:"station_descriptive_name"`
	StationID              int    `json:"station_id" mapstructure:"station_id"`
	Order                  int    `json:"order" mapstructure:"order"`
	Red                    bool   `json:"red" mapstructure:"red"`
	Blue                   bool   `json:"blue" mapstructure:"blue"`
	Green                  bool   `json:"green" mapstructure:"green"`
}

// TransformedStation is the simplified, line-tagged station kept in the table
// and published on the changelog topic.
type TransformedStation struct {
	StationID   int    `json:"station_id" mapstructure:"station_id"`
	StationName string `json:"station_name" mapstructure:"station_name"`
	Order       int    `json:"order" mapstructure:"order"`
	Line        string `json:"line" mapstructure:"line"`
}

var (
	ErrMissingStationID = errors.New("missing station_id")
	ErrNotARecord       = errors.New("record is not a station")
	ErrTombstone        = errors.New("record carries no row image")
)

// TransformError reports an inbound record that cannot be turned into a
// TransformedStation. It is skippable: the stream logs it and moves on.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform station: %v", e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Validate reports records that are not usable as table entries. More than one
// colour flag is not an error: Transform resolves it by precedence.
func (s Station) Validate() error {
	if s.StationID <= 0 {
		return &TransformError{Err: ErrMissingStationID}
	}
	return nil
}
