// Package product names the published rasters and packs each product
// directory into a zip archive.
package product

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/zulandar/empatia/internal/fsutil"
)

// Prefix marks final artifacts. Files carrying it survive the cleanup of
// intermediate rasters.
const Prefix = "CONAE"

const version = "v001"

// PM10Name names the estimate of one orbit, stamped with the orbit start.
func PM10Name(start time.Time) string {
	return fmt.Sprintf("%s_PM10_%s_%s", Prefix, start.UTC().Format("20060102_150405"), version)
}

// ICAName names the daily air-quality index product.
func ICAName(date civil.Date) string {
	return fmt.Sprintf("%s_ICA_%s_%s", Prefix, compact(date), version)
}

// MonthlyName names the monthly statistics of one sensor, spanning the first
// and last dates that contributed to it.
func MonthlyName(first, last civil.Date, code string) string {
	return fmt.Sprintf("%s_PM10m_%s_%s_%s_%s", Prefix, compact(first), compact(last), code, version)
}

// IsFinal reports whether a file name belongs to a published product.
func IsFinal(name string) bool {
	return strings.HasPrefix(filepath.Base(name), Prefix)
}

func compact(d civil.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// Zip writes every regular file of dir into dir+".zip" and returns the
// archive path. Entries are stored in lexical order under the directory name.
func Zip(dir string) (string, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("product: zip %s: %w", dir, err)
	}

	target := dir + ".zip"
	base := filepath.Base(dir)
	err = fsutil.WriteAtomic(target, 0o644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if err := addFile(zw, filepath.Join(dir, e.Name()), base+"/"+e.Name()); err != nil {
				return err
			}
		}
		return zw.Close()
	})
	if err != nil {
		return "", fmt.Errorf("product: zip %s: %w", dir, err)
	}
	return target, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("product: zip: %w", err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("product: zip %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("product: zip %s: %w", name, err)
	}
	return nil
}
