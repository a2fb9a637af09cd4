// Package gate decides whether a mosaic carries enough valid (non-null)
// cells to be worth running the estimator on.
package gate

import (
	"fmt"
	"sync"
)

// DefaultThreshold is the minimum percentage of valid cells used when no
// threshold is configured.
const DefaultThreshold = 8.0

// InvalidInputError reports cell counts that cannot describe a raster.
type InvalidInputError struct {
	TotalCells int
	NullCells  int
	Reason     string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("gate: invalid input (total=%d, null=%d): %s", e.TotalCells, e.NullCells, e.Reason)
}

// ValidationError is returned when a mosaic is rejected by the gate. It is
// not a processing failure: the orbit is dropped and the date continues.
type ValidationError struct {
	Raster     string
	Assessment Assessment
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gate: %s rejected: %.2f%% valid cells, %.2f%% required",
		e.Raster, e.Assessment.ValidPercent, e.Assessment.MinValidPercent)
}

// Assessment is the outcome of gating one raster.
type Assessment struct {
	TotalCells      int
	NullCells       int
	MinValidPercent float64
	ValidPercent    float64
	IsValid         bool
}

// Threshold resolves a configured threshold, falling back to
// DefaultThreshold when unset.
func Threshold(configured float64) float64 {
	if configured <= 0 {
		return DefaultThreshold
	}
	return configured
}

// Assess computes the share of valid cells and compares it against
// thresholdPercent. The raster is valid when
// 100 - null*100/total >= thresholdPercent.
func Assess(totalCells, nullCells int, thresholdPercent float64) (Assessment, error) {
	if totalCells <= 0 {
		return Assessment{}, &InvalidInputError{TotalCells: totalCells, NullCells: nullCells, Reason: "total cells must be positive"}
	}
	if nullCells < 0 || nullCells > totalCells {
		return Assessment{}, &InvalidInputError{TotalCells: totalCells, NullCells: nullCells, Reason: "null cells out of range"}
	}

	valid := 100 - float64(nullCells)*100/float64(totalCells)
	return Assessment{
		TotalCells:      totalCells,
		NullCells:       nullCells,
		MinValidPercent: thresholdPercent,
		ValidPercent:    valid,
		IsValid:         valid >= thresholdPercent,
	}, nil
}

// Key identifies the rasters of one overpass hour and sensor within a date.
type Key struct {
	Hour   int
	Sensor string
}

func (k Key) String() string { return fmt.Sprintf("%d_%s", k.Hour, k.Sensor) }

// Memo remembers which (hour, sensor) keys already failed the gate for the
// current date so later rasters sharing the key skip the null-cell count.
// A Memo must not be shared between dates.
type Memo struct {
	mu       sync.Mutex
	rejected map[Key]struct{}
}

// NewMemo returns an empty memo.
func NewMemo() *Memo {
	return &Memo{rejected: make(map[Key]struct{})}
}

// Rejected reports whether key has already failed the gate.
func (m *Memo) Rejected(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rejected[key]
	return ok
}

// Reject records key as failed.
func (m *Memo) Reject(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[key] = struct{}{}
}

// Len returns the number of rejected keys.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rejected)
}
