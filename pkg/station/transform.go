package station

// Transform maps a Station to its line-tagged form. Red takes precedence over
// blue and blue over green; a station with no flag set falls through to green.
func Transform(s Station) TransformedStation {
	return TransformedStation{
		StationID:   s.StationID,
		StationName: s.StationName,
		Order:       s.Order,
		Line:        line(s),
	}
}

func line(s Station) string {
	switch {
	case s.Red:
		return LineRed
	case s.Blue:
		return LineBlue
	default:
		return LineGreen
	}
}
