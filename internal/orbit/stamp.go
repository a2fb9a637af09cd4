package orbit

import (
	"fmt"
	"strings"
	"time"
)

// stampLayout is the date part of a MODIS orbit time stamp: year, day of
// year, hour and minute.
const stampLayout = "2006002"

// ParseOrbitStamp decodes a MODIS "Orbit_time_stamp" token such as
// "20240151435T" into its UTC timestamp and sensor. The trailing letter is
// "T" for Terra and "A" for Aqua.
func ParseOrbitStamp(s string) (time.Time, Sensor, error) {
	s = strings.TrimSpace(s)
	if len(s) != 12 {
		return time.Time{}, "", fmt.Errorf("orbit: malformed stamp %q", s)
	}

	var sensor Sensor
	switch s[11] {
	case 'T':
		sensor = Terra
	case 'A':
		sensor = Aqua
	default:
		return time.Time{}, "", fmt.Errorf("orbit: stamp %q has unknown sensor suffix", s)
	}

	day, err := time.Parse(stampLayout, s[:7])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("orbit: stamp %q: %w", s, err)
	}
	clock, err := time.Parse("1504", s[7:11])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("orbit: stamp %q: %w", s, err)
	}

	ts := day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
	return ts, sensor, nil
}

// ParseOrbitStamps decodes a space separated list of stamps, skipping empty
// fields, and returns one TileRecord per stamp for the given tile. The n-th
// stamp describes band n of the granule.
func ParseOrbitStamps(list, tileID, path string) ([]TileRecord, error) {
	var records []TileRecord
	for i, field := range strings.Fields(list) {
		ts, sensor, err := ParseOrbitStamp(field)
		if err != nil {
			return nil, err
		}
		records = append(records, TileRecord{
			Timestamp: ts,
			Sensor:    sensor,
			TileID:    tileID,
			Path:      path,
			Layer:     i + 1,
		})
	}
	return records, nil
}
