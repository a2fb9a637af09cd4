package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zulandar/empatia/internal/config"
)

// MerraBand returns the 1-based band of a reanalysis grid matching an
// overpass hour. Hourly collections start at 12:30 UTC and wrap every twelve
// hours; the 3-hourly instantaneous collection starts at 12:00 UTC.
func MerraBand(hour int, ds config.MerraDataset) int {
	if ds.ThreeHourly {
		return hour/3 + 1 - 4
	}
	return hour%12 + 1
}

// netcdfSource names one variable of a NetCDF grid as a GDAL dataset.
func netcdfSource(path, variable string) string {
	return fmt.Sprintf("NETCDF:%q:%s", path, variable)
}

// domainPosition is where the reference raster sits in the feature stack.
const domainPosition = 4

// featureStack orders the model inputs: the per-orbit feature rasters sorted
// by file name, with the domain raster inserted at domainPosition and the
// night lights raster last. This is the layout the model was trained on.
func featureStack(rasters []string, domain, nightLights string) []string {
	sorted := append([]string(nil), rasters...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	pos := domainPosition
	if pos > len(sorted) {
		pos = len(sorted)
	}
	stack := make([]string, 0, len(sorted)+2)
	stack = append(stack, sorted[:pos]...)
	if domain != "" {
		stack = append(stack, domain)
	}
	stack = append(stack, sorted[pos:]...)
	if nightLights != "" {
		stack = append(stack, nightLights)
	}
	return stack
}

// NightLightsPath is where the yearly night lights mean is written.
func NightLightsPath(processedDir, product string, year int) string {
	return filepath.Join(processedDir, fmt.Sprintf("%s_%d", product, year), fmt.Sprintf("viirs_night_lights_%d.tif", year))
}

// resolveNightLights returns this year's night lights raster, falling back
// to last year's. It returns "" when neither exists.
func resolveNightLights(processedDir, product string, year int) string {
	for _, y := range []int{year, year - 1} {
		p := NightLightsPath(processedDir, product, y)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
