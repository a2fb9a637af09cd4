package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"cloud.google.com/go/civil"
	"github.com/zulandar/empatia/internal/fsutil"
)

var validPipelineID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store keeps one JSON file per pipeline under Dir.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir. The directory is created on the
// first Save.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Path returns the file backing pipelineID.
func (s *Store) Path(pipelineID string) string {
	return filepath.Join(s.Dir, pipelineID+".json")
}

// Load reads the checkpoint for pipelineID. A missing file yields
// Default(today). A file that cannot be parsed yields a
// *CorruptCheckpointError.
func (s *Store) Load(pipelineID string, today civil.Date) (Checkpoint, error) {
	if err := checkID(pipelineID); err != nil {
		return Checkpoint{}, err
	}
	path := s.Path(pipelineID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(today), nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}

	cp, err := decode(data)
	if err != nil {
		return Checkpoint{}, &CorruptCheckpointError{PipelineID: pipelineID, Path: path, Err: err}
	}
	return cp, nil
}

// Save atomically replaces the checkpoint for pipelineID. The state is
// written to a temporary file in the same directory, synced and renamed over
// the target, so readers observe either the old or the new state. Saving a
// state identical to the one on disk leaves the file untouched.
func (s *Store) Save(pipelineID string, cp Checkpoint) error {
	if err := checkID(pipelineID); err != nil {
		return err
	}
	data, err := Encode(cp)
	if err != nil {
		return err
	}

	path := s.Path(pipelineID)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create %s: %w", s.Dir, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", pipelineID, err)
	}
	return nil
}

// Encode renders cp in its canonical on-disk form.
func Encode(cp Checkpoint) ([]byte, error) {
	data, err := json.MarshalIndent(cp.Normalize(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	return append(data, '\n'), nil
}

func decode(data []byte) (Checkpoint, error) {
	var raw struct {
		LastExecutionDate *civil.Date  `json:"last_execution_date"`
		UncompletedDates  []civil.Date `json:"uncompleted_dates"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return Checkpoint{}, err
	}
	if raw.LastExecutionDate == nil || !raw.LastExecutionDate.IsValid() {
		return Checkpoint{}, errors.New("missing or invalid last_execution_date")
	}
	for _, d := range raw.UncompletedDates {
		if !d.IsValid() {
			return Checkpoint{}, fmt.Errorf("invalid uncompleted date %s", d)
		}
	}
	return Checkpoint{
		LastExecutionDate: *raw.LastExecutionDate,
		UncompletedDates:  SortedUnique(raw.UncompletedDates),
	}, nil
}

func checkID(pipelineID string) error {
	if !validPipelineID.MatchString(pipelineID) {
		return fmt.Errorf("checkpoint: invalid pipeline id %q", pipelineID)
	}
	return nil
}
