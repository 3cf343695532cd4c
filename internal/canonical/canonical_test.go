package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"negative int64", int64(-7), "-7"},
		{"string", "hello", `"hello"`},
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"newline", "a\nb", `"a\nb"`},
		{"control char", "\x01", `"\u0001"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"string slice", []string{"x", "y"}, `["x","y"]`},
		{"empty array", []any{}, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_ObjectKeyOrder(t *testing.T) {
	got, err := Marshal(map[string]any{
		"b": 1,
		"a": []any{"z", map[string]any{"y": true, "x": false}},
		"":  "empty",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"":"empty","a":["z",{"x":false,"y":true}],"b":1}`, string(got))
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D..., which sort before U+FF21 in
	// UTF-16 even though its UTF-8 bytes sort after.
	got, err := Marshal(map[string]any{"\uFF21": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFF21\":1}", string(got))
}

func TestMarshal_NFC(t *testing.T) {
	decomposed := "e\u0301"
	got, err := Marshal(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshal_Rejects(t *testing.T) {
	_, err := Marshal(1.5)
	assert.Error(t, err)

	_, err = Marshal(map[string]any{"k": struct{}{}})
	assert.Error(t, err)
}

func TestHash_DomainSeparation(t *testing.T) {
	a, err := Hash(DomainProjection, map[string]any{"k": "v"})
	require.NoError(t, err)
	b, err := Hash(DomainStore, map[string]any{"k": "v"})
	require.NoError(t, err)
	c, err := Hash(DomainProjection, map[string]any{"k": "v"})
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}
