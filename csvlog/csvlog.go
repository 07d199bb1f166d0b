// Package csvlog samples the state cache once per interval (normally
// once a second, driven by a broadcast.RepeatTimer) and appends a row to
// a per-minute CSV file, rotating to a new file and header whenever the
// minute changes. Grounded on the teacher's cmd/n2kreader/csv.go
// (os.Stat-to-detect-new-file, encoding/csv writer, float formatting with
// "%.8g"), rewritten against a fixed column set read from a
// cache.StateCache instead of the teacher's ad hoc PGN/field matcher.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nmeagw/n2kgw"
)

// stateReader is the read side of cache.StateCache, kept as a narrow
// local interface so this package does not import cache.
type stateReader interface {
	Get(key string) (interface{}, bool)
	Units(key string) string
}

// Columns is the fixed, ordered set of cache keys written to the CSV.
var Columns = []string{
	"Heading", "SpeedThroughWater", "SOG", "COG",
	"WindSpeed", "WindAngle", "WindReference",
	"Depth", "DepthOffset", "Longitude", "Latitude",
}

// Logger appends one CSV row per Sample call to
// <dir>/saildata-YYYY-MM-DD-HH-MM.csv, starting a new file (with a fresh
// header row) whenever the current minute changes.
type Logger struct {
	dir   string
	cache stateReader

	timeNow func() time.Time

	mu            sync.Mutex
	file          *os.File
	writer        *csv.Writer
	currentMinute string
}

// New returns a Logger writing into dir, reading values from cache.
func New(dir string, cache stateReader) *Logger {
	return &Logger{dir: dir, cache: cache, timeNow: time.Now}
}

// Sample writes one row reflecting the cache's current values. Intended
// to be driven by a broadcast.RepeatTimer on a 1 second interval.
func (l *Logger) Sample() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	if err := l.rotateIfNeeded(now); err != nil {
		return fmt.Errorf("csvlog: %w", err)
	}

	row := make([]string, len(Columns))
	for i, col := range Columns {
		row[i] = l.cellFor(col)
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("csvlog: failed to write row: %w", err)
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *Logger) cellFor(col string) string {
	v, ok := l.cache.Get(col)
	if !ok || n2k.IsUnknown(v) {
		return ""
	}
	switch vv := v.(type) {
	case float64:
		return fmt.Sprintf("%.8g", vv)
	case string:
		return vv
	default:
		return fmt.Sprintf("%v", vv)
	}
}

func (l *Logger) rotateIfNeeded(now time.Time) error {
	minute := now.Format("2006-01-02-15-04")
	if minute == l.currentMinute && l.file != nil {
		return nil
	}

	if l.file != nil {
		l.writer.Flush()
		_ = l.file.Close()
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(l.dir, fmt.Sprintf("saildata-%s.csv", minute))

	_, statErr := os.Stat(path)
	fileExists := statErr == nil

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if !fileExists {
		header := make([]string, len(Columns))
		for i, col := range Columns {
			header[i] = fmt.Sprintf("%s (%s)", col, l.cache.Units(col))
		}
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write header: %w", err)
		}
		w.Flush()
	}

	l.file = f
	l.writer = w
	l.currentMinute = minute
	return nil
}

// Close flushes and closes the currently open file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.writer.Flush()
	return l.file.Close()
}
