package firestore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_DecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Value
	}{
		{"null", `{"nullValue":null}`, Value{Kind: KindNull}},
		{"bool", `{"booleanValue":true}`, Value{Kind: KindBoolean, Bool: true}},
		{"integer", `{"integerValue":"42"}`, Value{Kind: KindInteger, Int: 42}},
		{"double", `{"doubleValue":1.5}`, Value{Kind: KindDouble, Double: 1.5}},
		{"timestamp", `{"timestampValue":"2026-01-29T00:00:00Z"}`, Value{Kind: KindTimestamp, Str: "2026-01-29T00:00:00Z"}},
		{"string", `{"stringValue":"hi"}`, Value{Kind: KindString, Str: "hi"}},
		{"bytes", `{"bytesValue":"aGk="}`, Value{Kind: KindBytes, Str: "aGk="}},
		{"reference", `{"referenceValue":"projects/p/x"}`, Value{Kind: KindReference, Str: "projects/p/x"}},
		{"geopoint", `{"geoPointValue":{"latitude":1,"longitude":2}}`, Value{Kind: KindGeoPoint, GeoPoint: GeoPoint{1, 2}}},
		{"empty array", `{"arrayValue":{}}`, Value{Kind: KindArray}},
		{"array", `{"arrayValue":{"values":[{"stringValue":"a"}]}}`, Value{Kind: KindArray, Array: []Value{String("a")}}},
		{"map", `{"mapValue":{"fields":{"k":{"booleanValue":false}}}}`, Value{Kind: KindMap, Map: map[string]Value{"k": Bool(false)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Value
			require.NoError(t, json.Unmarshal([]byte(tt.json), &got))
			assert.Equal(t, tt.want, got)

			out, err := json.Marshal(got)
			require.NoError(t, err)

			var again Value
			require.NoError(t, json.Unmarshal(out, &again))
			assert.Equal(t, got.Kind, again.Kind)
		})
	}
}

func TestValue_DecodeRejectsMalformed(t *testing.T) {
	for _, in := range []string{`{}`, `{"stringValue":"a","booleanValue":true}`, `{"weirdValue":1}`, `{"integerValue":"x"}`, `[]`} {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(in), &v), in)
	}
}

func TestTimestamp_EncodesUTCMillis(t *testing.T) {
	ts := time.Date(2026, 1, 29, 9, 30, 0, 123456789, time.FixedZone("CET", 3600))

	v := Timestamp(ts)
	assert.Equal(t, "2026-01-29T08:30:00.123Z", v.Str)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestampValue":"2026-01-29T08:30:00.123Z"}`, string(data))
}

func TestAsTime_AcceptsStringVariant(t *testing.T) {
	want := time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)

	got, ok := String("2026-01-29T00:00:00.000Z").AsTime()
	require.True(t, ok)
	assert.True(t, want.Equal(got))

	_, ok = String("yesterday").AsTime()
	assert.False(t, ok)

	_, ok = Bool(true).AsTime()
	assert.False(t, ok)
}

func TestStringArray(t *testing.T) {
	data, err := json.Marshal(StringArray([]string{"a", "b"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"arrayValue":{"values":[{"stringValue":"a"},{"stringValue":"b"}]}}`, string(data))

	empty, err := json.Marshal(StringArray(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"arrayValue":{"values":[]}}`, string(empty))

	mixed := Value{Kind: KindArray, Array: []Value{String("a"), Bool(true)}}
	_, ok := mixed.AsStringArray()
	assert.False(t, ok)
}
