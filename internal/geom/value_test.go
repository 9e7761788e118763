package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectClone_Independent(t *testing.T) {
	orig := Object{
		"name":   Str("profile"),
		"points": Array{V(0, 0, 0), V(1, 1, 0)},
		"nested": Object{"depth": Num(2.5)},
	}

	clone := orig.Clone()
	clone["name"] = Str("changed")
	clone["nested"].(Object)["depth"] = Num(99)
	clone["points"].(Array)[0] = V(5, 5, 5)

	assert.Equal(t, Str("profile"), orig["name"])
	assert.Equal(t, Num(2.5), orig["nested"].(Object)["depth"])
	assert.Equal(t, V(0, 0, 0), orig["points"].(Array)[0])
}

func TestObjectClone_Nil(t *testing.T) {
	var o Object
	assert.Nil(t, o.Clone())
}

func TestUnmarshalValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Value
	}{
		{"string", `"hi"`, Str("hi")},
		{"int", `42`, Int(42)},
		{"float", `1.5`, Num(1.5)},
		{"exponent", `1e3`, Num(1000)},
		{"bool", `true`, Bool(true)},
		{"array", `[1,2]`, Array{Int(1), Int(2)}},
		{"object", `{"a":1.5}`, Object{"a": Num(1.5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := UnmarshalValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestUnmarshalValue_RejectsNull(t *testing.T) {
	_, err := UnmarshalValue([]byte(`null`))
	assert.Error(t, err)

	_, err = UnmarshalValue([]byte(`{"a":null}`))
	assert.Error(t, err)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"radius": 2.5,
		"count":  3,
		"tag":    "edge-7",
		"open":   false,
		"pts":    []any{1, 2, 3},
	})
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Num(2.5), obj["radius"])
	assert.Equal(t, Int(3), obj["count"])
	assert.Equal(t, Str("edge-7"), obj["tag"])
	assert.Equal(t, Bool(false), obj["open"])
	assert.Equal(t, Array{Int(1), Int(2), Int(3)}, obj["pts"])
}

func TestAsVec(t *testing.T) {
	v, err := AsVec(Array{Num(1), Int(2), Num(3.5)})
	require.NoError(t, err)
	assert.Equal(t, V(1, 2, 3.5), v)

	v, err = AsVec(V(4, 5, 6))
	require.NoError(t, err)
	assert.Equal(t, V(4, 5, 6), v)

	_, err = AsVec(Array{Num(1), Num(2)})
	assert.Error(t, err)

	_, err = AsVec(Str("nope"))
	assert.Error(t, err)
}

func TestKernelError(t *testing.T) {
	err := NewKernelError("fillet", "radius exceeds edge length")
	assert.True(t, IsKernelError(err))
	assert.Contains(t, err.Error(), "fillet")
	assert.False(t, IsKernelError(assert.AnError))
}
