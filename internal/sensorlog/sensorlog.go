// Package sensorlog reads and writes the per-date record of PM10 products
// produced for each sensor. The daily pipeline writes one log per
// successfully processed date; the monthly aggregation reads them back.
package sensorlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/fsutil"
	"github.com/zulandar/empatia/internal/orbit"
)

// FileName is the name of the log inside a date's prediction directory.
const FileName = "log.json"

// Log maps a sensor to the ordered list of PM10 rasters produced for it.
type Log map[orbit.Sensor][]string

// Append records path for sensor, preserving insertion order.
func (l Log) Append(sensor orbit.Sensor, path string) {
	l[sensor] = append(l[sensor], path)
}

// Len returns the number of recorded paths across sensors.
func (l Log) Len() int {
	n := 0
	for _, paths := range l {
		n += len(paths)
	}
	return n
}

// Entry is one date's log as found on disk.
type Entry struct {
	Date civil.Date
	Path string
	Log  Log
}

// Path returns the log location for date under predictionDir.
func Path(predictionDir string, date civil.Date) string {
	return filepath.Join(predictionDir, date.String(), FileName)
}

// Write atomically stores l for date. The encoding is deterministic: sensor
// keys are sorted and path order is preserved, so rewriting the same log
// yields identical bytes.
func Write(predictionDir string, date civil.Date, l Log) error {
	path := Path(predictionDir, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sensorlog: create dir for %s: %w", date, err)
	}
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return fmt.Errorf("sensorlog: encode %s: %w", date, err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("sensorlog: write %s: %w", date, err)
	}
	return nil
}

// Read loads the log for date. ok is false when no log exists.
func Read(predictionDir string, date civil.Date) (l Log, ok bool, err error) {
	path := Path(predictionDir, date)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sensorlog: read %s: %w", path, err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("sensorlog: parse %s: %w", path, err)
	}
	l = make(Log, len(raw))
	for k, paths := range raw {
		// Unknown keys are tolerated and ignored.
		if s, err := orbit.ParseSensor(k); err == nil {
			l[s] = paths
		}
	}
	return l, true, nil
}

// ScanMonth returns the logs of every date in the given month that has one,
// in date order.
func ScanMonth(predictionDir string, year int, month int) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(predictionDir, fmt.Sprintf("%04d-%02d-*", year, month), FileName))
	if err != nil {
		return nil, fmt.Errorf("sensorlog: scan %04d-%02d: %w", year, month, err)
	}

	var entries []Entry
	for _, m := range matches {
		date, err := civil.ParseDate(filepath.Base(filepath.Dir(m)))
		if err != nil {
			continue
		}
		l, ok, err := Read(predictionDir, date)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries = append(entries, Entry{Date: date, Path: m, Log: l})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	return entries, nil
}
