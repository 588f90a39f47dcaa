package firestore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind is the variant of a typed value.
type Kind int

// Value variants of the Firestore REST envelope.
const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindDouble
	KindTimestamp
	KindString
	KindBytes
	KindReference
	KindGeoPoint
	KindArray
	KindMap
)

// TimestampFormat is the wire format used for timestamps we write:
// millisecond precision, always UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Value is one field value in the tagged envelope. Only the member matching
// Kind is meaningful. Timestamp, bytes (base64), and reference values keep
// their wire text in Str.
type Value struct {
	Kind     Kind
	Bool     bool
	Int      int64
	Double   float64
	Str      string
	GeoPoint GeoPoint
	Array    []Value
	Map      map[string]Value
}

// String encodes a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool encodes a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// Timestamp encodes t in UTC with millisecond precision.
func Timestamp(t time.Time) Value {
	return Value{Kind: KindTimestamp, Str: t.UTC().Format(TimestampFormat)}
}

// StringArray encodes an array of strings.
func StringArray(ss []string) Value {
	vals := make([]Value, len(ss))
	for i, s := range ss {
		vals[i] = String(s)
	}

	return Value{Kind: KindArray, Array: vals}
}

// AsString returns the value of a string variant.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}

	return v.Str, true
}

// AsBool returns the value of a boolean variant.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBoolean {
		return false, false
	}

	return v.Bool, true
}

// AsTime parses a timestamp variant, or a string variant holding an
// RFC 3339 timestamp, which older clients wrote.
func (v Value) AsTime() (time.Time, bool) {
	if v.Kind != KindTimestamp && v.Kind != KindString {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, v.Str)
	if err != nil {
		return time.Time{}, false
	}

	return t.UTC(), true
}

// AsStringArray returns the members of an array of strings. Non-string
// members make the whole value ill-typed.
func (v Value) AsStringArray() ([]string, bool) {
	if v.Kind != KindArray {
		return nil, false
	}

	out := make([]string, 0, len(v.Array))

	for _, m := range v.Array {
		s, ok := m.AsString()
		if !ok {
			return nil, false
		}

		out = append(out, s)
	}

	return out, true
}

// MarshalJSON emits the single-key envelope object.
func (v Value) MarshalJSON() ([]byte, error) {
	var env map[string]any

	switch v.Kind {
	case KindNull:
		env = map[string]any{"nullValue": nil}
	case KindBoolean:
		env = map[string]any{"booleanValue": v.Bool}
	case KindInteger:
		env = map[string]any{"integerValue": strconv.FormatInt(v.Int, 10)}
	case KindDouble:
		env = map[string]any{"doubleValue": v.Double}
	case KindTimestamp:
		env = map[string]any{"timestampValue": v.Str}
	case KindString:
		env = map[string]any{"stringValue": v.Str}
	case KindBytes:
		env = map[string]any{"bytesValue": v.Str}
	case KindReference:
		env = map[string]any{"referenceValue": v.Str}
	case KindGeoPoint:
		env = map[string]any{"geoPointValue": v.GeoPoint}
	case KindArray:
		vals := v.Array
		if vals == nil {
			vals = []Value{}
		}

		env = map[string]any{"arrayValue": map[string]any{"values": vals}}
	case KindMap:
		fields := v.Map
		if fields == nil {
			fields = map[string]Value{}
		}

		env = map[string]any{"mapValue": map[string]any{"fields": fields}}
	default:
		return nil, fmt.Errorf("firestore: unknown value kind %d", v.Kind)
	}

	return json.Marshal(env)
}

// UnmarshalJSON parses the single-key envelope object.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("firestore: decoding value: %w", err)
	}

	if len(env) != 1 {
		return fmt.Errorf("firestore: value envelope has %d keys, want 1", len(env))
	}

	for key, raw := range env {
		return v.decodeVariant(key, raw)
	}

	return nil
}

func (v *Value) decodeVariant(key string, raw json.RawMessage) error {
	*v = Value{}

	var err error

	switch key {
	case "nullValue":
		v.Kind = KindNull
	case "booleanValue":
		v.Kind = KindBoolean
		err = json.Unmarshal(raw, &v.Bool)
	case "integerValue":
		v.Kind = KindInteger

		var s string
		if err = json.Unmarshal(raw, &s); err == nil {
			v.Int, err = strconv.ParseInt(s, 10, 64)
		}
	case "doubleValue":
		v.Kind = KindDouble
		err = json.Unmarshal(raw, &v.Double)
	case "timestampValue":
		v.Kind = KindTimestamp
		err = json.Unmarshal(raw, &v.Str)
	case "stringValue":
		v.Kind = KindString
		err = json.Unmarshal(raw, &v.Str)
	case "bytesValue":
		v.Kind = KindBytes
		err = json.Unmarshal(raw, &v.Str)
	case "referenceValue":
		v.Kind = KindReference
		err = json.Unmarshal(raw, &v.Str)
	case "geoPointValue":
		v.Kind = KindGeoPoint
		err = json.Unmarshal(raw, &v.GeoPoint)
	case "arrayValue":
		v.Kind = KindArray

		var arr struct {
			Values []Value `json:"values"`
		}
		if err = json.Unmarshal(raw, &arr); err == nil {
			v.Array = arr.Values
		}
	case "mapValue":
		v.Kind = KindMap

		var m struct {
			Fields map[string]Value `json:"fields"`
		}
		if err = json.Unmarshal(raw, &m); err == nil {
			v.Map = m.Fields
		}
	default:
		return fmt.Errorf("firestore: unknown value variant %q", key)
	}

	if err != nil {
		return fmt.Errorf("firestore: decoding %s: %w", key, err)
	}

	return nil
}
