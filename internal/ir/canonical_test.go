package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"int", IRInt(-42), `-42`},
		{"bool", IRBool(true), `true`},
		{"null", IRNull{}, `null`},
		{"sorted object", IRObject{"b": IRInt(2), "a": IRInt(1)}, `{"a":1,"b":2}`},
		{"array", IRArray{IRInt(1), IRString("x")}, `[1,"x"]`},
		{"no html escaping", IRString("<a&b>"), `"<a&b>"`},
		{"line separator literal", IRString("a\u2028b"), "\"a\u2028b\""},
		{"control chars escaped", IRString("a\nb\x01"), `"a\nb\u0001"`},
		{"quote and backslash", IRString(`"\`), `"\"\\"`},
		{"nfc normalized", IRString("e\u0301"), "\"\u00e9\""},
		{"plain go map", map[string]any{"z": "y", "a": 1}, `{"a":1,"z":"y"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestSnapshotHash(t *testing.T) {
	team := MustKey("Team", IRInt(1))
	fields := IRObject{"name": IRString("Ada")}

	h1, err := SnapshotHash(fields, map[string]RecordKey{"team": team})
	require.NoError(t, err)
	h2, err := SnapshotHash(fields.Clone(), map[string]RecordKey{"team": team})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := SnapshotHash(fields, map[string]RecordKey{"team": {}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "changing a link must change the hash")

	h4, err := SnapshotHash(IRObject{"name": IRString("Bob")}, map[string]RecordKey{"team": team})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}
