// Package catalog loads and normalizes the PGN descriptor table that
// drives field decoding. The table is external data (a JSON document);
// this package never hard-codes PGN layouts.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"math/bits"
	"strings"
)

// FieldType is the catalog-declared type tag for a field. The set is open:
// any value the catalog carries is accepted, but only a handful get
// special-cased decoding.
type FieldType string

// Field types with dedicated decoding behavior. Anything else is decoded
// as a plain scalar.
const (
	FieldTypeScalar         FieldType = "scalar"
	FieldTypeLookup         FieldType = "Lookup table"
	FieldTypeASCIIText      FieldType = "ASCII text"
	FieldTypeASCIILengthLed FieldType = "ASCII string starting with length byte"
)

// FieldDescriptor describes one field within a PGN's payload layout.
type FieldDescriptor struct {
	// Name is the canonical key: LongName with spaces removed.
	Name string
	// LongName is the original, human readable field label.
	LongName string

	BitOffset int
	// BitLength is the field width in bits, or -1 when BitLengthVariable.
	BitLength         int
	BitLengthVariable bool

	Signed bool
	Type   FieldType

	// Resolution is the multiplicative scalar applied to the raw integer
	// to produce the physical value. Defaults to 1.
	Resolution float64
	Units      string

	// EnumValues maps an integer key to its display name. Present iff
	// Type == FieldTypeLookup.
	EnumValues map[int]string
	// EnumMask is (2^ceil(log2(maxEnumKey+1)))-1, precomputed at load time.
	EnumMask uint64
}

// IsEmittable reports whether this field produces record output, or is
// purely positional (its bits still advance the layout cursor).
func (f FieldDescriptor) IsEmittable() bool {
	return f.Name != "" && f.Name != "Reserved" && f.Name != "SID"
}

// PGNDescriptor is one catalog entry, keyed by numeric PGN.
type PGNDescriptor struct {
	PGN uint32

	Description string
	// Length is the total payload length in bytes. Length > 8 implies
	// the PGN is carried as a Fast Packet sequence.
	Length int

	Fields []FieldDescriptor
}

// IsFastPacket reports whether this PGN's payload cannot fit a single CAN
// frame and must be reassembled.
func (p PGNDescriptor) IsFastPacket() bool {
	return p.Length > 8
}

// Catalog is the normalized, read-only PGN descriptor table. Safe for
// concurrent use by any number of readers once constructed.
type Catalog struct {
	byPGN map[uint32]PGNDescriptor
}

// Lookup returns the descriptor for pgn, if the catalog carries one.
func (c *Catalog) Lookup(pgn uint32) (PGNDescriptor, bool) {
	d, ok := c.byPGN[pgn]
	return d, ok
}

// Len returns the number of PGN descriptors loaded.
func (c *Catalog) Len() int {
	return len(c.byPGN)
}

// --- JSON document shape -----------------------------------------------

type rawSchema struct {
	PGNs []rawPGN `json:"PGNs"`
}

type rawPGN struct {
	PGN         uint32     `json:"PGN"`
	Description string     `json:"Description"`
	Length      int        `json:"Length"`
	Fields      []rawField `json:"Fields"`
}

type rawField struct {
	Name              string         `json:"Name"`
	BitOffset         int            `json:"BitOffset"`
	BitLength         int            `json:"BitLength"`
	BitLengthVariable bool           `json:"BitLengthVariable"`
	Signed            bool           `json:"Signed"`
	Type              string         `json:"Type"`
	Resolution        float64        `json:"Resolution"`
	Units             string         `json:"Units"`
	EnumValues        []rawEnumValue `json:"EnumValues"`
}

type rawEnumValue struct {
	Value int    `json:"value"`
	Name  string `json:"name"`
}

// Load parses a PGN catalog document and normalizes it for decoding use.
// A malformed document, or one missing the top-level "PGNs" key, is a
// fatal initialization error.
func Load(r io.Reader) (*Catalog, error) {
	var doc rawSchema
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: malformed PGN catalog JSON: %w", err)
	}
	if doc.PGNs == nil {
		return nil, fmt.Errorf("catalog: PGN catalog document is missing the \"PGNs\" key")
	}
	return normalize(doc), nil
}

// LoadFile opens path within filesystem and loads the PGN catalog from it.
func LoadFile(filesystem fs.FS, path string) (*Catalog, error) {
	f, err := filesystem.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open PGN catalog file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func normalize(doc rawSchema) *Catalog {
	byPGN := make(map[uint32]PGNDescriptor, len(doc.PGNs))
	for _, rp := range doc.PGNs {
		fields := make([]FieldDescriptor, 0, len(rp.Fields))
		for _, rf := range rp.Fields {
			fields = append(fields, normalizeField(rf))
		}
		byPGN[rp.PGN] = PGNDescriptor{
			PGN:         rp.PGN,
			Description: rp.Description,
			Length:      rp.Length,
			Fields:      fields,
		}
	}
	return &Catalog{byPGN: byPGN}
}

func normalizeField(rf rawField) FieldDescriptor {
	resolution := rf.Resolution
	if resolution == 0 {
		resolution = 1
	}

	f := FieldDescriptor{
		Name:              strings.ReplaceAll(rf.Name, " ", ""),
		LongName:          rf.Name,
		BitOffset:         rf.BitOffset,
		BitLength:         rf.BitLength,
		BitLengthVariable: rf.BitLengthVariable,
		Signed:            rf.Signed,
		Type:              FieldType(rf.Type),
		Resolution:        resolution,
		Units:             rf.Units,
	}
	if rf.BitLengthVariable {
		f.BitLength = -1
	}

	if f.Type == FieldTypeLookup && len(rf.EnumValues) > 0 {
		enumValues := make(map[int]string, len(rf.EnumValues))
		maxKey := 0
		for _, ev := range rf.EnumValues {
			enumValues[ev.Value] = ev.Name
			if ev.Value > maxKey {
				maxKey = ev.Value
			}
		}
		f.EnumValues = enumValues
		f.EnumMask = enumMaskFor(maxKey)
	}

	return f
}

// enumMaskFor computes (2^ceil(log2(maxKey+1)))-1.
func enumMaskFor(maxKey int) uint64 {
	if maxKey <= 0 {
		return 0
	}
	width := bits.Len(uint(maxKey))
	return (uint64(1) << uint(width)) - 1
}
