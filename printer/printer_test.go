package printer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nmeagw/n2kgw"
)

type fakeCache struct {
	values map[string]interface{}
	units  map[string]string
	keys   []string
}

func (f fakeCache) Get(key string) (interface{}, bool) {
	v, ok := f.values[key]
	return v, ok
}
func (f fakeCache) Units(key string) string { return f.units[key] }
func (f fakeCache) Keys() []string          { return f.keys }

func TestPrint_RendersKnownAndUnknownAndUnitedValues(t *testing.T) {
	cache := fakeCache{
		values: map[string]interface{}{
			"Depth":   3.0,
			"Heading": n2k.Unknown,
			"SOG":     5.1,
		},
		units: map[string]string{"Depth": "m"},
		keys:  []string{"Depth", "Heading", "SOG"},
	}

	var buf bytes.Buffer
	p := New(&buf, cache)
	p.Print()

	out := buf.String()
	assert.Contains(t, out, "Depth: 3 m\n")
	assert.Contains(t, out, "Heading: Unknown\n")
	assert.Contains(t, out, "SOG: 5.1\n")
}

func TestPrint_KeysAreSortedForStableOutput(t *testing.T) {
	cache := fakeCache{
		values: map[string]interface{}{"Zeta": 1.0, "Alpha": 2.0},
		units:  map[string]string{},
		keys:   []string{"Zeta", "Alpha"},
	}
	var buf bytes.Buffer
	New(&buf, cache).Print()

	out := buf.String()
	assert.True(t, bytes.Index(buf.Bytes(), []byte("Alpha")) < bytes.Index(buf.Bytes(), []byte("Zeta")))
	_ = out
}

func TestPrint_SkipsKeysNotPresentInCache(t *testing.T) {
	cache := fakeCache{
		values: map[string]interface{}{},
		units:  map[string]string{},
		keys:   []string{"Ghost"},
	}
	var buf bytes.Buffer
	New(&buf, cache).Print()
	assert.Empty(t, buf.String())
}
