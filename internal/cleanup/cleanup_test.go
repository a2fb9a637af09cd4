package cleanup

import (
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRemoveIntermediates(t *testing.T) {
	dir := t.TempDir()
	keep := []string{"CONAE_PM10_20240105_143500_v001.tif", "log.json", "notes.txt"}
	drop := []string{"AOD047_14_Terra.tif", "PBLH_14_Terra.tif", "daily_ica.tif"}
	for _, name := range append(keep, drop...) {
		touch(t, filepath.Join(dir, name))
	}
	os.MkdirAll(filepath.Join(dir, "sub.tif"), 0o755)

	removed, err := RemoveIntermediates(dir)
	if err != nil {
		t.Fatalf("RemoveIntermediates: %v", err)
	}
	if len(removed) != len(drop) {
		t.Errorf("removed = %v, want %d files", removed, len(drop))
	}
	for _, name := range drop {
		if exists(filepath.Join(dir, name)) {
			t.Errorf("%s still present", name)
		}
	}
	for _, name := range keep {
		if !exists(filepath.Join(dir, name)) {
			t.Errorf("%s was removed", name)
		}
	}
	if !exists(filepath.Join(dir, "sub.tif")) {
		t.Error("directory named like a raster was removed")
	}
}

func TestRemoveIntermediates_MissingDir(t *testing.T) {
	removed, err := RemoveIntermediates(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(removed) != 0 {
		t.Errorf("removed=%v err=%v", removed, err)
	}
}

func TestRemoveDatedBefore(t *testing.T) {
	base := t.TempDir()
	processed := filepath.Join(base, "processed")
	prediction := filepath.Join(base, "prediction")
	touch(t, filepath.Join(processed, "2024-01-01", "a.tif"))
	touch(t, filepath.Join(processed, "2024-01-10", "a.tif"))
	touch(t, filepath.Join(prediction, "2023-12-31", "log.json"))
	touch(t, filepath.Join(prediction, "monthly", "x.zip"))
	touch(t, filepath.Join(processed, "log.json"))

	cutoff := civil.Date{Year: 2024, Month: 1, Day: 10}
	removed, err := RemoveDatedBefore(cutoff, processed, prediction, filepath.Join(base, "missing"))
	if err != nil {
		t.Fatalf("RemoveDatedBefore: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want 2", removed)
	}
	if exists(filepath.Join(processed, "2024-01-01")) || exists(filepath.Join(prediction, "2023-12-31")) {
		t.Error("old directories still present")
	}
	for _, p := range []string{
		filepath.Join(processed, "2024-01-10"),
		filepath.Join(prediction, "monthly"),
		filepath.Join(processed, "log.json"),
	} {
		if !exists(p) {
			t.Errorf("%s was removed", p)
		}
	}
}

func TestRoots(t *testing.T) {
	roots := Roots("/d/modis", "MCD19A2", "/d/merra", []string{"M2T1NXAER", "M2I3NVASM"}, "/d/processed", "/d/prediction")
	want := []string{"/d/modis/MCD19A2", "/d/merra/M2T1NXAER", "/d/merra/M2I3NVASM", "/d/processed", "/d/prediction"}
	if len(roots) != len(want) {
		t.Fatalf("roots = %v", roots)
	}
	for i := range want {
		if roots[i] != want[i] {
			t.Errorf("roots[%d] = %q, want %q", i, roots[i], want[i])
		}
	}
}
