// Package cache holds a fixed set of named quantities, each bound to a
// subset of a specific PGN's decoded fields, kept current as records are
// consumed off the ingestion thread and read by the broadcast encoders and
// loggers on their own goroutines.
//
// The mutex-guarded map-of-structs shape follows the teacher's
// addressmapper.AddressMapper: one lock covers every read and write, kept
// simple because contention is low and critical sections are short.
package cache

import (
	"sync"

	"github.com/nmeagw/n2kgw"
	"github.com/nmeagw/n2kgw/catalog"
)

// FieldBinding maps one decoded field on a PGN to the cache key it is
// stored under. CacheKey defaults to SourceField when left empty.
type FieldBinding struct {
	SourceField string
	CacheKey    string
}

func (b FieldBinding) key() string {
	if b.CacheKey != "" {
		return b.CacheKey
	}
	return b.SourceField
}

// Binding declares which fields of a PGN populate the cache.
type Binding struct {
	PGN    uint32
	Fields []FieldBinding
}

// DefaultBindings is the standard PGN-to-cache-key table used by n2kgw's
// own state cache instance.
var DefaultBindings = []Binding{
	{PGN: 127250, Fields: []FieldBinding{{SourceField: "Heading"}}},
	{PGN: 128259, Fields: []FieldBinding{{SourceField: "SpeedWaterReferenced", CacheKey: "SpeedThroughWater"}}},
	{PGN: 128267, Fields: []FieldBinding{
		{SourceField: "Depth"},
		{SourceField: "Offset", CacheKey: "DepthOffset"},
	}},
	{PGN: 129025, Fields: []FieldBinding{{SourceField: "Longitude"}, {SourceField: "Latitude"}}},
	{PGN: 129026, Fields: []FieldBinding{{SourceField: "SOG"}, {SourceField: "COG"}}},
	{PGN: 130306, Fields: []FieldBinding{
		{SourceField: "WindSpeed"},
		{SourceField: "WindAngle"},
		{SourceField: "Reference", CacheKey: "WindReference"},
	}},
	{PGN: 129033, Fields: []FieldBinding{{SourceField: "Date"}, {SourceField: "Time"}}},
}

// StateCache is a mutex-guarded key/value table of the most recently
// observed value for each bound field, pre-populated as Unknown at
// construction. It implements n2k.Consumer so it can be registered
// directly with a Reader.
type StateCache struct {
	mu sync.Mutex

	keys   []string
	values map[string]interface{}
	units  map[string]string

	byPGN map[uint32][]FieldBinding
}

// New builds a StateCache from bindings, resolving each key's unit string
// from cat (empty if the PGN or field is absent from the catalog) and
// pre-populating every key as n2k.Unknown.
func New(cat *catalog.Catalog, bindings []Binding) *StateCache {
	c := &StateCache{
		values: make(map[string]interface{}),
		units:  make(map[string]string),
		byPGN:  make(map[uint32][]FieldBinding, len(bindings)),
	}

	for _, b := range bindings {
		c.byPGN[b.PGN] = b.Fields

		desc, hasDesc := cat.Lookup(b.PGN)
		for _, fb := range b.Fields {
			key := fb.key()
			c.set(key, n2k.Unknown)
			c.units[key] = ""
			if !hasDesc {
				continue
			}
			for _, fd := range desc.Fields {
				if fd.Name == fb.SourceField {
					c.units[key] = fd.Units
					break
				}
			}
		}
	}
	return c
}

func (c *StateCache) set(key string, value interface{}) {
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Consume implements n2k.Consumer: for every bound field present in rec,
// it atomically replaces the cached value.
func (c *StateCache) Consume(pgn uint32, rec *n2k.DecodedRecord, desc *catalog.PGNDescriptor) {
	bindings, ok := c.byPGN[pgn]
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fb := range bindings {
		value, ok := rec.Get(fb.SourceField)
		if !ok {
			continue
		}
		c.set(fb.key(), value)
	}
}

// Get returns the current value for key and whether key is bound at all.
func (c *StateCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Units returns the resolved unit string for key ("" if unbound or the
// catalog carried no unit for the source field).
func (c *StateCache) Units(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.units[key]
}

// Keys returns every bound cache key, in the order bindings were declared.
func (c *StateCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, len(c.keys))
	copy(keys, c.keys)
	return keys
}
