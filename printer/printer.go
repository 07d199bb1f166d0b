// Package printer dumps the state cache's current values to a writer
// (normally stdout) on every tick of a broadcast.RepeatTimer, as a
// minimal debugging aid. Grounded on erh/gonmea's analyzer/cli/print.go
// for the "render a quantity, with Unknown rendered as the literal word"
// shape, implemented with the teacher's own plain fmt.Fprintf style
// rather than gonmea's buffered CLI printer machinery.
package printer

import (
	"fmt"
	"io"
	"sort"

	"github.com/nmeagw/n2kgw"
)

// stateReader is the read side of cache.StateCache, kept as a narrow
// local interface so this package does not import cache.
type stateReader interface {
	Get(key string) (interface{}, bool)
	Units(key string) string
	Keys() []string
}

// Printer writes one line per cache key, sorted for stable output, on
// every Print call.
type Printer struct {
	out   io.Writer
	cache stateReader
}

// New returns a Printer writing to out.
func New(out io.Writer, cache stateReader) *Printer {
	return &Printer{out: out, cache: cache}
}

// Print renders every cache key's current value to the Printer's writer,
// one "key: value unit" line each, in sorted key order.
func (p *Printer) Print() {
	keys := append([]string(nil), p.cache.Keys()...)
	sort.Strings(keys)

	for _, key := range keys {
		value, ok := p.cache.Get(key)
		if !ok {
			continue
		}
		if n2k.IsUnknown(value) {
			fmt.Fprintf(p.out, "%s: Unknown\n", key)
			continue
		}
		if units := p.cache.Units(key); units != "" {
			fmt.Fprintf(p.out, "%s: %v %s\n", key, value, units)
			continue
		}
		fmt.Fprintf(p.out, "%s: %v\n", key, value)
	}
}
