package canon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool", true, "true"},
		{"empty array", []int{}, "[]"},
		{"empty object", map[string]int{}, "{}"},
		{"duration is integral", 1500 * time.Millisecond, "1500000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshal_SortedKeys(t *testing.T) {
	type inner struct {
		Zeta  int `json:"zeta"`
		Alpha int `json:"alpha"`
	}
	type outer struct {
		Z inner  `json:"z"`
		A string `json:"a"`
	}

	out, err := Marshal(outer{Z: inner{Zeta: 1, Alpha: 2}, A: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","z":{"alpha":2,"zeta":1}}`, string(out))
}

func TestMarshal_UTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair (0xD800...), which sorts before
	// U+E000 in UTF-16 even though it sorts after it in UTF-8.
	out, err := Marshal(map[string]int{"\uE000": 1, "\U00010000": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(out))
}

func TestMarshal_NoHTMLEscape(t *testing.T) {
	out, err := Marshal("<a href=\"#todo\">&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"#todo\">&</a>"`, string(out))
}

func TestMarshal_NFC(t *testing.T) {
	out, err := Marshal("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(out))
}

func TestMarshal_LineSeparators(t *testing.T) {
	out, err := Marshal("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	// A literal backslash followed by the text u2028 stays escaped.
	out, err = Marshal(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

func TestMarshal_Rejects(t *testing.T) {
	_, err := Marshal(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = Marshal(map[string]any{"x": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "x": null is forbidden`)

	var nilSlice []string
	_, err = Marshal(nilSlice)
	assert.Error(t, err)
}

func TestMarshalIndent(t *testing.T) {
	out, err := MarshalIndent(map[string]any{"b": []int{1}, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"x\",\n  \"b\": [\n    1\n  ]\n}\n", string(out))
}
