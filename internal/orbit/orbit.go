// Package orbit reconstructs satellite overpasses from individual tile
// observations. Tiles of the same sensor whose timestamps are close together
// belong to one physical overpass ("orbit").
package orbit

import (
	"fmt"
	"sort"
	"time"
)

// GapThreshold is the largest time difference between two consecutive tiles
// of the same orbit. A larger gap always starts a new orbit.
const GapThreshold = 2700 * time.Second

// Sensor identifies the MODIS platform a tile was captured by.
type Sensor string

const (
	Terra Sensor = "Terra"
	Aqua  Sensor = "Aqua"
)

// Sensors lists the known sensors in output order.
var Sensors = []Sensor{Terra, Aqua}

// ParseSensor converts a sensor name into a Sensor.
func ParseSensor(s string) (Sensor, error) {
	switch Sensor(s) {
	case Terra, Aqua:
		return Sensor(s), nil
	}
	return "", fmt.Errorf("orbit: unknown sensor %q", s)
}

// TileRecord is one decoded satellite tile observation.
type TileRecord struct {
	Timestamp time.Time
	Sensor    Sensor
	TileID    string // e.g. "h12_v11"
	Path      string // raw file the record was decoded from
	Layer     int    // 1-based band of this overpass within Path, 0 when the file holds one
}

// Orbit is a maximal run of same-sensor tiles whose consecutive timestamps
// never differ by more than GapThreshold.
type Orbit struct {
	Sensor   Sensor
	GroupTag int
	Members  []TileRecord // sorted by timestamp
}

// Start returns the timestamp of the earliest member.
func (o Orbit) Start() time.Time {
	if len(o.Members) == 0 {
		return time.Time{}
	}
	return o.Members[0].Timestamp
}

// Key returns the "<hour>_<sensor>" suffix used to name the rasters derived
// from this orbit within a processing date.
func (o Orbit) Key() string {
	return fmt.Sprintf("%d_%s", o.Start().Hour(), o.Sensor)
}

// Paths returns the raw file paths of the members, in timestamp order.
func (o Orbit) Paths() []string {
	paths := make([]string, 0, len(o.Members))
	for _, m := range o.Members {
		paths = append(paths, m.Path)
	}
	return paths
}

// Cluster groups tiles into orbits. Tiles are partitioned by sensor and sorted
// by timestamp; a new orbit starts whenever the gap to the previous tile
// exceeds GapThreshold. Group tags restart at 1 for every sensor. Terra orbits
// come first, then Aqua, each in tag order. Tiles with an unknown sensor are
// ignored. Cluster never filters orbits.
func Cluster(tiles []TileRecord) []Orbit {
	bySensor := make(map[Sensor][]TileRecord, len(Sensors))
	for _, t := range tiles {
		bySensor[t.Sensor] = append(bySensor[t.Sensor], t)
	}

	var orbits []Orbit
	for _, s := range Sensors {
		orbits = append(orbits, clusterSensor(s, bySensor[s])...)
	}
	return orbits
}

// clusterSensor tags a single sensor's tiles. An empty partition yields no
// orbits.
func clusterSensor(sensor Sensor, tiles []TileRecord) []Orbit {
	if len(tiles) == 0 {
		return nil
	}

	sorted := make([]TileRecord, len(tiles))
	copy(sorted, tiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	orbits := []Orbit{{Sensor: sensor, GroupTag: 1}}
	prev := sorted[0].Timestamp
	for _, t := range sorted {
		if t.Timestamp.Sub(prev) > GapThreshold {
			orbits = append(orbits, Orbit{Sensor: sensor, GroupTag: len(orbits) + 1})
		}
		cur := &orbits[len(orbits)-1]
		cur.Members = append(cur.Members, t)
		prev = t.Timestamp
	}
	return orbits
}
