// Package rowset defines the schema-less row representation SoTStore
// returns and CacheAside serializes: an ordered string-keyed map of tagged
// values (Design Note "Dynamic row dictionaries from SoT").
package rowset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the dynamic type carried in a Value.
type Kind int

// Supported value kinds.
const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindTime
	KindBytes
)

// Value is a single cell of a Row: a tagged union over the column types a
// relational SoT can return. It is the unit every JSON (de)serialization
// round-trips through.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Time  time.Time
	Bytes []byte
}

// NullValue, IntValue, ... are constructors kept terse for call sites that
// build rows by hand (tests, stub SoT implementations).
func NullValue() Value                  { return Value{Kind: KindNull} }
func IntValue(v int64) Value            { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value        { return Value{Kind: KindFloat, Float: v} }
func BoolValue(v bool) Value            { return Value{Kind: KindBool, Bool: v} }
func StringValue(v string) Value        { return Value{Kind: KindString, Str: v} }
func TimeValue(v time.Time) Value       { return Value{Kind: KindTime, Time: v} }
func BytesValue(v []byte) Value         { return Value{Kind: KindBytes, Bytes: v} }

// Native returns the value unwrapped to its corresponding Go type, for
// callers that already know the expected kind.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	case KindTime:
		return v.Time
	case KindBytes:
		return v.Bytes
	default:
		return nil
	}
}

// FromNative wraps a Go value returned by database/sql scanning into a
// Value, defaulting unrecognized types to their fmt.Sprintf string form
// rather than failing: SoT adapters are expected to normalize driver types
// (e.g. []uint8 from lib/pq) before calling this, but callers that don't
// still get a usable cache entry instead of an error.
func FromNative(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case int64:
		return IntValue(t)
	case int:
		return IntValue(int64(t))
	case float64:
		return FloatValue(t)
	case float32:
		return FloatValue(float64(t))
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case time.Time:
		return TimeValue(t)
	case []byte:
		return BytesValue(t)
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// jsonValue is Value's wire shape: a discriminated union so both the kind
// and the payload round-trip through JSON.
type jsonValue struct {
	K string      `json:"k"`
	V interface{} `json:"v,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{}
	switch v.Kind {
	case KindNull:
		jv.K = "null"
	case KindInt:
		jv.K, jv.V = "int", v.Int
	case KindFloat:
		jv.K, jv.V = "float", v.Float
	case KindBool:
		jv.K, jv.V = "bool", v.Bool
	case KindString:
		jv.K, jv.V = "string", v.Str
	case KindTime:
		jv.K, jv.V = "time", v.Time.UTC().Format(time.RFC3339Nano)
	case KindBytes:
		jv.K, jv.V = "bytes", v.Bytes
	}
	return json.Marshal(jv)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.K {
	case "null", "":
		*v = NullValue()
	case "int":
		n, ok := jv.V.(float64)
		if !ok {
			return fmt.Errorf("rowset: bad int value %v", jv.V)
		}
		*v = IntValue(int64(n))
	case "float":
		n, ok := jv.V.(float64)
		if !ok {
			return fmt.Errorf("rowset: bad float value %v", jv.V)
		}
		*v = FloatValue(n)
	case "bool":
		b, ok := jv.V.(bool)
		if !ok {
			return fmt.Errorf("rowset: bad bool value %v", jv.V)
		}
		*v = BoolValue(b)
	case "string":
		s, ok := jv.V.(string)
		if !ok {
			return fmt.Errorf("rowset: bad string value %v", jv.V)
		}
		*v = StringValue(s)
	case "time":
		s, ok := jv.V.(string)
		if !ok {
			return fmt.Errorf("rowset: bad time value %v", jv.V)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("rowset: parse time: %w", err)
		}
		*v = TimeValue(t)
	case "bytes":
		s, ok := jv.V.(string)
		if !ok {
			return fmt.Errorf("rowset: bad bytes value %v", jv.V)
		}
		// encoding/json writes []byte as base64, so decode it back.
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("rowset: bad bytes value: %w", err)
		}
		*v = BytesValue(b)
	default:
		return fmt.Errorf("rowset: unknown value kind %q", jv.K)
	}
	return nil
}

// Row is an ordered mapping from column name to Value. Column order is
// preserved because map iteration order is not; Columns is the
// authoritative order, Fields holds the values.
type Row struct {
	Columns []string
	Fields  map[string]Value
}

// NewRow builds a Row from columns in order with the given values, which
// must be the same length.
func NewRow(columns []string, values []Value) Row {
	fields := make(map[string]Value, len(columns))
	for i, c := range columns {
		fields[c] = values[i]
	}
	return Row{Columns: append([]string(nil), columns...), Fields: fields}
}

// rowJSON preserves column order across JSON by encoding the column names
// as an ordered array next to the name-to-value map.
type rowJSON struct {
	Columns []string           `json:"columns"`
	Fields  map[string]Value   `json:"fields"`
}

func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(rowJSON{Columns: r.Columns, Fields: r.Fields})
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var rj rowJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	r.Columns = rj.Columns
	r.Fields = rj.Fields
	return nil
}

// Rows is the sequence CacheAside caches and returns.
type Rows []Row

// Marshal serializes rows as JSON UTF-8, dates rendered ISO-8601, so a
// cached entry survives a round trip through any JSON-aware tooling
// without losing precision.
func Marshal(rows Rows) ([]byte, error) {
	return json.Marshal(rows)
}

// Unmarshal deserializes bytes produced by Marshal. A shape mismatch
// returns an error; CacheAside treats that as a miss rather than
// propagating a decode failure to the caller.
func Unmarshal(data []byte) (Rows, error) {
	var rows Rows
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("rowset: unmarshal: %w", err)
	}
	return rows, nil
}
