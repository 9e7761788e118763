package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", Str("hello"), `"hello"`},
		{"empty string", Str(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
		{"plain go string", "x", `"x"`},
		{"plain go int", 7, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalFloats(t *testing.T) {
	// Shortest round-trip form, integral values drop the fraction.
	tests := []struct {
		name     string
		input    Num
		expected string
	}{
		{"half", Num(0.5), "0.5"},
		{"integral", Num(3), "3"},
		{"negative", Num(-2.25), "-2.25"},
		{"zero", Num(0), "0"},
		{"negative zero", Num(negZero()), "0"},
		{"tenth", Num(0.1), "0.1"},
		{"small decimal stays decimal", Num(0.00001), "0.00001"},
		{"decimal boundary", Num(0.000001), "0.000001"},
		{"tiny switches to exponent", Num(0.0000001), "1e-7"},
		{"large switches to exponent", Num(1e21), "1e+21"},
		{"exponent keeps fraction", Num(1.5e22), "1.5e+22"},
		{"negative exponent form", Num(-2.5e-8), "-2.5e-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func negZero() float64 {
	z := 0.0
	return -z
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	inf := 1.0
	for i := 0; i < 400; i++ {
		inf *= 10
	}
	_, err := MarshalCanonical(Num(inf))
	assert.Error(t, err)
}

func TestMarshalCanonicalVec(t *testing.T) {
	result, err := MarshalCanonical(V(1, 0.5, -2))
	require.NoError(t, err)
	assert.Equal(t, "[1,0.5,-2]", string(result))
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000 - UTF-16 order differs from UTF-8.
	// The surrogate pair (0xD800 0xDC00) sorts before 0xE000.
	obj := Object{
		"\uE000": Int(1),
		"𐀀":      Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	expected := `{"𐀀":2,"` + "\uE000" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(Str("<a>&</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(result))
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := Object{
		"points": Array{V(0, 0, 0), V(10, 0, 0), V(10, 10, 0)},
		"closed": Bool(true),
		"name":   Str("profile"),
	}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	obj := Object{
		"kind":   Str("curve"),
		"degree": Int(3),
		"points": Array{Array{Num(0), Num(0), Num(0)}, Array{Num(1.5), Num(2), Num(0)}},
	}

	data, err := MarshalCanonical(obj)
	require.NoError(t, err)

	decoded, err := UnmarshalValue(data)
	require.NoError(t, err)

	again, err := MarshalCanonical(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}
