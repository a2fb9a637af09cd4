package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
)

func d(s string) civil.Date {
	date, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return date
}

func TestLoad_MissingReturnsDefault(t *testing.T) {
	s := NewStore(t.TempDir())
	today := d("2024-01-05")

	cp, err := s.Load("daily", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.LastExecutionDate != today {
		t.Errorf("LastExecutionDate = %s, want %s", cp.LastExecutionDate, today)
	}
	if cp.UncompletedDates == nil || len(cp.UncompletedDates) != 0 {
		t.Errorf("UncompletedDates = %v, want empty set", cp.UncompletedDates)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state"))
	cp := Checkpoint{
		LastExecutionDate: d("2024-01-05"),
		UncompletedDates:  []civil.Date{d("2024-01-03"), d("2024-01-01"), d("2024-01-03")},
	}

	if err := s.Save("daily", cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load("daily", d("2030-01-01"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(cp) {
		t.Errorf("Load() = %+v, want %+v", got, cp.Normalize())
	}
	if len(got.UncompletedDates) != 2 || got.UncompletedDates[0] != d("2024-01-01") {
		t.Errorf("UncompletedDates = %v, want sorted unique", got.UncompletedDates)
	}

	// save(load(x)) is a fixed point.
	before, _ := os.ReadFile(s.Path("daily"))
	if err := s.Save("daily", got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	after, _ := os.ReadFile(s.Path("daily"))
	if string(before) != string(after) {
		t.Errorf("re-saving a loaded checkpoint changed the file:\n%s\n---\n%s", before, after)
	}
}

func TestSave_Format(t *testing.T) {
	s := NewStore(t.TempDir())
	cp := Checkpoint{LastExecutionDate: d("2024-02-29"), UncompletedDates: []civil.Date{d("2024-02-27")}}
	if err := s.Save("daily", cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(s.Path("daily"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"last_execution_date": "2024-02-29"`, `"uncompleted_dates": [`, `"2024-02-27"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("checkpoint file missing %s:\n%s", want, data)
		}
	}
}

func TestSave_EmptySetEncodedAsArray(t *testing.T) {
	data, err := Encode(Checkpoint{LastExecutionDate: d("2024-01-01")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"uncompleted_dates": []`) {
		t.Errorf("nil set should encode as []:\n%s", data)
	}
}

func TestSave_UnchangedIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	cp := Checkpoint{LastExecutionDate: d("2024-01-05"), UncompletedDates: []civil.Date{}}
	if err := s.Save("daily", cp); err != nil {
		t.Fatal(err)
	}
	info1, _ := os.Stat(s.Path("daily"))

	if err := s.Save("daily", cp); err != nil {
		t.Fatal(err)
	}
	info2, _ := os.Stat(s.Path("daily"))
	if !os.SameFile(info1, info2) {
		t.Error("unchanged save replaced the file")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the checkpoint (no temp leftovers)", len(entries))
	}
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"last_execution_date": "2024-01`},
		{"not json", "hello"},
		{"bad date", `{"last_execution_date": "2024-13-01", "uncompleted_dates": []}`},
		{"missing last date", `{"uncompleted_dates": []}`},
		{"bad uncompleted", `{"last_execution_date": "2024-01-01", "uncompleted_dates": ["yesterday"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := NewStore(dir)
			if err := os.WriteFile(s.Path("daily"), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := s.Load("daily", d("2024-01-05"))
			var corrupt *CorruptCheckpointError
			if !errors.As(err, &corrupt) {
				t.Fatalf("error = %v, want *CorruptCheckpointError", err)
			}
			if corrupt.PipelineID != "daily" {
				t.Errorf("PipelineID = %q", corrupt.PipelineID)
			}

			// The corrupt file must be left in place for the operator.
			data, _ := os.ReadFile(s.Path("daily"))
			if string(data) != tt.content {
				t.Error("corrupt checkpoint was modified")
			}
		})
	}
}

func TestStore_InvalidPipelineID(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, id := range []string{"", "../escape", "a/b"} {
		if _, err := s.Load(id, d("2024-01-01")); err == nil {
			t.Errorf("Load(%q): expected error", id)
		}
		if err := s.Save(id, Default(d("2024-01-01"))); err == nil {
			t.Errorf("Save(%q): expected error", id)
		}
	}
}

func TestSortedUnique(t *testing.T) {
	got := SortedUnique([]civil.Date{d("2024-03-01"), d("2023-12-31"), d("2024-03-01"), d("2024-01-15")})
	want := []civil.Date{d("2023-12-31"), d("2024-01-15"), d("2024-03-01")}
	if len(got) != len(want) {
		t.Fatalf("SortedUnique() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortedUnique()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
