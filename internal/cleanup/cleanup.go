// Package cleanup removes stale working data: intermediate rasters left in a
// date's working directory and whole dated directories past retention.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/product"
)

// RemoveIntermediates deletes every *.tif directly under dir except final
// products. It returns the removed paths in lexical order. A missing
// directory is not an error.
func RemoveIntermediates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cleanup: read %s: %w", dir, err)
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(name), ".tif") || product.IsFinal(name) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("cleanup: remove intermediates in %s: %w", dir, errors.Join(errs...))
	}
	return removed, nil
}

// RemoveDatedBefore deletes the YYYY-MM-DD named directories directly under
// each root whose date is before cutoff. Other entries are left alone and
// missing roots are skipped.
func RemoveDatedBefore(cutoff civil.Date, roots ...string) ([]string, error) {
	var removed []string
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("cleanup: read %s: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			d, err := civil.ParseDate(e.Name())
			if err != nil || !d.Before(cutoff) {
				continue
			}
			path := filepath.Join(root, e.Name())
			if err := os.RemoveAll(path); err != nil {
				return removed, fmt.Errorf("cleanup: remove %s: %w", path, err)
			}
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// Roots lists the directories holding dated sub-directories: the raw MAIAC
// downloads, one directory per reanalysis collection, and the processed and
// prediction trees.
func Roots(modisDir, maiacProduct, merraDir string, merraShortNames []string, processedDir, predictionDir string) []string {
	roots := []string{filepath.Join(modisDir, maiacProduct)}
	for _, name := range merraShortNames {
		roots = append(roots, filepath.Join(merraDir, name))
	}
	return append(roots, processedDir, predictionDir)
}
