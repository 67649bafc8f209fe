// Package catalog implements Serengeti's database/table metadata and
// row-level replica placement. It owns no network code directly —
// replica assignment and placement broadcast are delegated to a small
// ReplicationSink interface injected at construction, breaking the
// catalog/replication cycle.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindFloat
	KindString
	KindBool
	KindTimestamp
	KindBlob
	KindNull
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindBlob:
		return "blob"
	case KindNull:
		return "null"
	default:
		return "unknown"
	}
}

// ParseValueKind maps a CREATE TABLE column type token to a ValueKind.
func ParseValueKind(s string) (ValueKind, bool) {
	switch s {
	case "INT", "INTEGER", "int", "integer":
		return KindInt, true
	case "FLOAT", "DOUBLE", "float", "double":
		return KindFloat, true
	case "VARCHAR", "STRING", "TEXT", "varchar", "string", "text":
		return KindString, true
	case "BOOL", "BOOLEAN", "bool", "boolean":
		return KindBool, true
	case "TIMESTAMP", "timestamp":
		return KindTimestamp, true
	case "BLOB", "BYTES", "blob", "bytes":
		return KindBlob, true
	default:
		return KindNull, false
	}
}

// Value is a tagged union over the supported column types: int,
// float, string, bool, timestamp, blob.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
	Time  time.Time
	Blob  []byte
}

func IntValue(v int64) Value           { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value       { return Value{Kind: KindFloat, Float: v} }
func StringValue(v string) Value       { return Value{Kind: KindString, Str: v} }
func BoolValue(v bool) Value           { return Value{Kind: KindBool, Bool: v} }
func TimestampValue(v time.Time) Value { return Value{Kind: KindTimestamp, Time: v} }
func BlobValue(v []byte) Value         { return Value{Kind: KindBlob, Blob: v} }
func NullValue() Value                 { return Value{Kind: KindNull} }

type jsonValue struct {
	Kind  string    `json:"kind"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Str   string    `json:"str,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Time  time.Time `json:"time,omitempty"`
	Blob  []byte    `json:"blob,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonValue{
		Kind: v.Kind.String(), Int: v.Int, Float: v.Float, Str: v.Str,
		Bool: v.Bool, Time: v.Time, Blob: v.Blob,
	})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	kind, ok := ParseValueKind(jv.Kind)
	if !ok {
		switch jv.Kind {
		case "int":
			kind = KindInt
		case "float":
			kind = KindFloat
		case "string":
			kind = KindString
		case "bool":
			kind = KindBool
		case "timestamp":
			kind = KindTimestamp
		case "blob":
			kind = KindBlob
		default:
			kind = KindNull
		}
	}
	*v = Value{Kind: kind, Int: jv.Int, Float: jv.Float, Str: jv.Str, Bool: jv.Bool, Time: jv.Time, Blob: jv.Blob}
	return nil
}

// Native returns the Value unwrapped as an any, convenient for the
// executor and JSON response bodies.
func (v Value) Native() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindTimestamp:
		return v.Time
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

// ValueFromJSON converts one decoded JSON scalar (string/float64/bool/
// nil, as produced by encoding/json for an `any`) into a Value, used at
// the HTTP boundary (`POST /post`) where rows arrive as plain JSON
// rather than through the query parser's typed literals. Integral
// float64s become KindInt.
func ValueFromJSON(v any) Value {
	switch val := v.(type) {
	case string:
		return StringValue(val)
	case float64:
		if val == float64(int64(val)) {
			return IntValue(int64(val))
		}
		return FloatValue(val)
	case bool:
		return BoolValue(val)
	case nil:
		return NullValue()
	default:
		return StringValue(fmt.Sprintf("%v", val))
	}
}

// Row is Serengeti's fundamental storage unit: a stable rowId assigned
// at insert time and a bag of tagged columns.
type Row struct {
	RowID   string           `json:"rowId"`
	Columns map[string]Value `json:"columns"`
}

// Column is one entry in a table's optional schema.
type Column struct {
	Name string    `json:"name"`
	Type ValueKind `json:"type"`
}

func (c Column) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}{c.Name, c.Type.String()})
}

func (c *Column) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, _ := ParseValueKind(raw.Type)
	*c = Column{Name: raw.Name, Type: kind}
	return nil
}

// TableMeta is the catalog's view of one table's schema. An empty
// Columns slice means the table is schema-less and accepts any column
// set at insert.
type TableMeta struct {
	DB      string   `json:"-"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns,omitempty"`
}

func (t TableMeta) HasSchema() bool { return len(t.Columns) > 0 }

func (t TableMeta) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// DatabaseMeta is the on-disk unit persisted as one `<db>.meta` file,
// an ordered list of table names.
type DatabaseMeta struct {
	Name   string   `json:"name"`
	Tables []string `json:"tables"`
}

// NodeID identifies a cluster member.
type NodeID = string

// Placement is a row's primary/secondary replica assignment.
type Placement struct {
	Primary   NodeID `json:"primary"`
	Secondary NodeID `json:"secondary"`
}

func (p Placement) String() string {
	return fmt.Sprintf("{primary:%s secondary:%s}", p.Primary, p.Secondary)
}

// ReplicaFile is the on-disk serialization of a table's replica map
// (`<db>/<table>/replica.bin`).
type ReplicaFile struct {
	Placements map[string]Placement `json:"placements"`
}
