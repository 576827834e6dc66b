// Package cdc models the Debezium-style change envelope that upstream
// change-data-capture connectors put on the inbound station topic.
package cdc

// Operation represents the type of change that occurred
type Operation string

const (
	OpCreate   Operation = "c"
	OpUpdate   Operation = "u"
	OpDelete   Operation = "d"
	OpRead     Operation = "r"
	OpTruncate Operation = "t"
)

// Source contains metadata about where a change originated
type Source struct {
	Version   string `json:"version" mapstructure:"version"`
	Connector string `json:"connector" mapstructure:"connector"`
	Name      string `json:"name" mapstructure:"name"`
	TsMs      int64  `json:"ts_ms" mapstructure:"ts_ms"`
	Snapshot  bool   `json:"snapshot" mapstructure:"snapshot"`
	Db        string `json:"db" mapstructure:"db"`
	Schema    string `json:"schema" mapstructure:"schema"`
	Table     string `json:"table" mapstructure:"table"`
	TxID      int64  `json:"txId" mapstructure:"txId"`
	Lsn       int64  `json:"lsn" mapstructure:"lsn"`
}

// Payload represents the actual change data
type Payload struct {
	Before map[string]any `json:"before" mapstructure:"before"`
	After  map[string]any `json:"after" mapstructure:"after"`
	Source Source         `json:"source" mapstructure:"source"`
	Op     Operation      `json:"op" mapstructure:"op"`
	TsMs   int64          `json:"ts_ms" mapstructure:"ts_ms"`
}

// Event represents a complete change data capture event. Connectors
// configured without schemas emit the Payload alone.
type Event struct {
	Schema  map[string]any `json:"schema,omitempty" mapstructure:"schema"`
	Payload Payload        `json:"payload" mapstructure:"payload"`
}

// Row returns the row image carried by the event: the after image for
// creates, updates and snapshot reads. Deletes and truncates carry none.
func (p Payload) Row() (map[string]any, bool) {
	switch p.Op {
	case OpDelete, OpTruncate:
		return nil, false
	}
	return p.After, p.After != nil
}

// IsEnvelope reports whether a decoded record looks like a change envelope
// rather than a flat row.
func IsEnvelope(m map[string]any) bool {
	if _, ok := m["payload"]; ok {
		return true
	}
	_, hasOp := m["op"]
	_, hasAfter := m["after"]
	return hasOp && hasAfter
}

// SourceBuilder helps construct Source objects with reasonable defaults
type SourceBuilder struct {
	source Source
}

func NewSourceBuilder(connector, name string) *SourceBuilder {
	return &SourceBuilder{
		source: Source{
			Version:   "1.0",
			Connector: connector,
			Name:      name,
		},
	}
}

func (b *SourceBuilder) WithSchema(schema string) *SourceBuilder {
	b.source.Schema = schema
	return b
}

func (b *SourceBuilder) WithTable(table string) *SourceBuilder {
	b.source.Table = table
	return b
}

func (b *SourceBuilder) WithTimestamp(ts int64) *SourceBuilder {
	b.source.TsMs = ts
	return b
}

func (b *SourceBuilder) Build() Source {
	return b.source
}

// EventBuilder helps construct complete CDC events
type EventBuilder struct {
	event Event
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{}
}

func (b *EventBuilder) WithSource(source Source) *EventBuilder {
	b.event.Payload.Source = source
	return b
}

func (b *EventBuilder) WithOperation(op Operation) *EventBuilder {
	b.event.Payload.Op = op
	return b
}

func (b *EventBuilder) WithBefore(before map[string]any) *EventBuilder {
	b.event.Payload.Before = before
	return b
}

func (b *EventBuilder) WithAfter(after map[string]any) *EventBuilder {
	b.event.Payload.After = after
	return b
}

func (b *EventBuilder) WithTimestamp(ts int64) *EventBuilder {
	b.event.Payload.TsMs = ts
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
