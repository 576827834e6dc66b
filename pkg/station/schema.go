package station

// Avro schemas for the records on the station topics. Keys are the bare
// station id.
const (
	KeySchema = `"int"`

	Schema = `{
  "type": "record",
  "name": "Station",
  "namespace": "org.chicago.cta",
  "fields": [
    {"name": "stop_id", "type": "int"},
    {"name": "direction_id", "type": "string"},
    {"name": "stop_name", "type": "string"},
    {"name": "station_name", "type": "string"},
    {"name": "station_descriptive_name", "type": "string"},
    {"name": "station_id", "type": "int"},
    {"name": "order", "type": "int"},
    {"name": "red", "type": "boolean"},
    {"name": "blue", "type": "boolean"},
    {"name": "green", "type": "boolean"}
  ]
}`

	TransformedSchema = `{
  "type": "record",
  "name": "TransformedStation",
  "namespace": "org.chicago.cta",
  "fields": [
    {"name": "station_id", "type": "int"},
    {"name": "station_name", "type": "string"},
    {"name": "order", "type": "int"},
    {"name": "line", "type": "string"}
  ]
}`
)
