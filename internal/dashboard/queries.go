package dashboard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"gorm.io/gorm"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/db"
	"github.com/zulandar/empatia/internal/models"
)

// PipelineStatus is the checkpoint of one pipeline joined with its latest
// recorded run.
type PipelineStatus struct {
	Pipeline          string              `json:"pipeline"`
	Persisted         bool                `json:"persisted"`
	LastExecutionDate civil.Date          `json:"last_execution_date"`
	UncompletedDates  []civil.Date        `json:"uncompleted_dates"`
	Corrupt           string              `json:"corrupt,omitempty"`
	LastRun           *models.PipelineRun `json:"last_run,omitempty"`
}

// Status reads the checkpoint of pipelineID and, when gdb is set, its latest
// run. A corrupt checkpoint is reported in the result rather than as an
// error so the operator can see it.
func Status(gdb *gorm.DB, store *checkpoint.Store, pipelineID string, today civil.Date) (*PipelineStatus, error) {
	st := &PipelineStatus{Pipeline: pipelineID}

	if _, err := os.Stat(store.Path(pipelineID)); err == nil {
		st.Persisted = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dashboard: stat checkpoint %s: %w", pipelineID, err)
	}

	cp, err := store.Load(pipelineID, today)
	var corrupt *checkpoint.CorruptCheckpointError
	switch {
	case errors.As(err, &corrupt):
		st.Corrupt = corrupt.Error()
	case err != nil:
		return nil, err
	default:
		st.LastExecutionDate = cp.LastExecutionDate
		st.UncompletedDates = cp.UncompletedDates
	}

	if gdb != nil {
		runs, err := db.RecentRuns(gdb, pipelineID, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			st.LastRun = &runs[0]
		}
	}
	return st, nil
}

// runCursor remembers the newest run already streamed. Runs sharing the
// cursor's timestamp are told apart by id.
type runCursor struct {
	at   time.Time
	seen map[string]bool
}

// newRunCursor starts after the latest recorded run.
func newRunCursor(gdb *gorm.DB) (*runCursor, error) {
	c := &runCursor{seen: map[string]bool{}}
	var latest []models.PipelineRun
	if err := gdb.Order("created_at DESC").Limit(1).Find(&latest).Error; err != nil {
		return c, fmt.Errorf("dashboard: latest run: %w", err)
	}
	if len(latest) == 0 {
		return c, nil
	}
	c.at = latest[0].CreatedAt
	_, err := c.next(gdb)
	return c, err
}

// next returns the runs recorded since the previous call, oldest first.
func (c *runCursor) next(gdb *gorm.DB) ([]models.PipelineRun, error) {
	runs, err := db.RunsSince(gdb, c.at)
	if err != nil {
		return nil, err
	}
	var fresh []models.PipelineRun
	for _, r := range runs {
		if c.seen[r.ID] {
			continue
		}
		if r.CreatedAt.After(c.at) {
			c.at = r.CreatedAt
			c.seen = map[string]bool{}
		}
		c.seen[r.ID] = true
		fresh = append(fresh, r)
	}
	return fresh, nil
}
