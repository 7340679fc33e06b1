package sequence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedMap(t *testing.T) {
	m := NewOrderedMap[string, int]()
	m.Set("c", 3)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 30)

	assert.Equal(t, []string{"c", "a", "b"}, m.Keys())
	assert.Equal(t, []int{30, 1, 2}, m.Values())
	assert.Equal(t, 3, m.Len())

	v, ok := m.Get("c")
	require.True(t, ok)
	assert.Equal(t, 30, v)

	assert.True(t, m.Delete("a"))
	assert.False(t, m.Delete("a"))
	assert.False(t, m.Has("a"))
	assert.Equal(t, []string{"c", "b"}, m.Keys())

	t.Run("iteration tolerates deletes", func(t *testing.T) {
		var seen []string
		for k := range m.All() {
			seen = append(seen, k)
			m.Delete("b")
		}
		assert.Equal(t, []string{"c"}, seen)
	})

	t.Run("zero value is usable", func(t *testing.T) {
		var z OrderedMap[string, string]
		assert.Equal(t, 0, z.Len())
		z.Set("k", "v")
		assert.Equal(t, []string{"k"}, z.Keys())
	})
}

func TestOrderedMapJSON(t *testing.T) {
	type rec struct {
		Name string `json:"name"`
	}
	m := NewOrderedMap[string, rec]()
	m.Set("z", rec{Name: "last"})
	m.Set("a", rec{Name: "first"})

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `[["z",{"name":"last"}],["a",{"name":"first"}]]`, string(data))

	var decoded OrderedMap[string, rec]
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"z", "a"}, decoded.Keys())

	empty := NewOrderedMap[string, int]()
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`[[1,{}]]`), &decoded))
}
