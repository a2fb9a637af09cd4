package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/zulandar/empatia/internal/checkpoint"
	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/db"
	"github.com/zulandar/empatia/internal/pipeline"
)

var today = civil.Date{Year: 2024, Month: 3, Day: 10}

func init() {
	gin.SetMode(gin.TestMode)
}

// testEnv opens a file-backed sqlite ledger and an empty checkpoint store.
func testEnv(t *testing.T) (*gorm.DB, *checkpoint.Store) {
	t.Helper()
	dir := t.TempDir()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "ledger.db")})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb, checkpoint.NewStore(filepath.Join(dir, "checkpoints"))
}

func testRouter(gdb *gorm.DB, store *checkpoint.Store) *gin.Engine {
	return newRouter(StartOpts{
		DB:        gdb,
		Store:     store,
		Pipelines: []string{"daily", "viirs-2024"},
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("emp_dates_total 3\n")) }),
		Today:     func() civil.Date { return today },
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestStart_RequiresDBAndStore(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v", err)
	}
	gdb, _ := testEnv(t)
	err = Start(context.Background(), StartOpts{DB: gdb})
	if err == nil || !strings.Contains(err.Error(), "store is required") {
		t.Errorf("err = %v", err)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	gdb, store := testEnv(t)
	r := testRouter(gdb, store)

	if w := get(t, r, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
	w := get(t, r, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "emp_dates_total") {
		t.Errorf("metrics = %d %q", w.Code, w.Body.String())
	}
}

func TestStatus(t *testing.T) {
	gdb, store := testEnv(t)
	cp := checkpoint.Checkpoint{
		LastExecutionDate: civil.Date{Year: 2024, Month: 3, Day: 9},
		UncompletedDates:  []civil.Date{{Year: 2024, Month: 3, Day: 2}},
	}
	if err := store.Save("daily", cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	run := &pipeline.RunReport{RunID: "r1", PipelineID: "daily", Started: time.Date(2024, 3, 9, 6, 0, 0, 0, time.UTC)}
	if err := db.RecordRun(gdb, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	w := get(t, testRouter(gdb, store), "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got []PipelineStatus
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}

	daily := got[0]
	if !daily.Persisted || daily.LastExecutionDate.String() != "2024-03-09" || len(daily.UncompletedDates) != 1 {
		t.Errorf("daily = %+v", daily)
	}
	if daily.LastRun == nil || daily.LastRun.ID != "r1" {
		t.Errorf("daily last run = %+v", daily.LastRun)
	}

	// No state yet: the default checkpoint for today.
	viirs := got[1]
	if viirs.Persisted || viirs.LastExecutionDate != today || viirs.LastRun != nil {
		t.Errorf("viirs = %+v", viirs)
	}
}

func TestStatus_Corrupt(t *testing.T) {
	gdb, store := testEnv(t)
	os.MkdirAll(store.Dir, 0o755)
	os.WriteFile(store.Path("daily"), []byte(`{"last_execution_date":`), 0o644)

	w := get(t, testRouter(gdb, store), "/api/status/daily")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st PipelineStatus
	json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Persisted || !strings.Contains(st.Corrupt, "corrupt state in") {
		t.Errorf("status = %+v", st)
	}
}

func TestStatus_BadPipelineID(t *testing.T) {
	gdb, store := testEnv(t)
	if w := get(t, testRouter(gdb, store), "/api/status/Daily%20Run"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRunsAndDates(t *testing.T) {
	gdb, store := testEnv(t)
	for _, res := range []pipeline.DateResult{
		{Date: civil.Date{Year: 2024, Month: 3, Day: 1}, Outcome: pipeline.Succeeded},
		{Date: civil.Date{Year: 2024, Month: 3, Day: 2}, Outcome: pipeline.Failed},
	} {
		if err := db.RecordDate(gdb, "r1", "daily", res); err != nil {
			t.Fatalf("RecordDate: %v", err)
		}
	}
	db.RecordRun(gdb, &pipeline.RunReport{RunID: "r1", PipelineID: "daily", Started: time.Now()})
	r := testRouter(gdb, store)

	w := get(t, r, "/api/runs?pipeline=daily&limit=5")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ID":"r1"`) {
		t.Errorf("runs = %d %s", w.Code, w.Body.String())
	}

	w = get(t, r, "/api/runs/daily/dates?outcome=failed")
	if w.Code != http.StatusOK {
		t.Fatalf("dates status = %d", w.Code)
	}
	var rows []map[string]any
	json.Unmarshal(w.Body.Bytes(), &rows)
	if len(rows) != 1 || rows[0]["Date"] != "2024-03-02" {
		t.Errorf("rows = %v", rows)
	}

	if w := get(t, r, "/api/runs/daily/dates?outcome=bogus"); w.Code != http.StatusBadRequest {
		t.Errorf("bogus outcome status = %d, want 400", w.Code)
	}
}

func TestSSE_StreamsNewRuns(t *testing.T) {
	pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { pollInterval = 3 * time.Second })

	gdb, store := testEnv(t)
	db.RecordRun(gdb, &pipeline.RunReport{RunID: "old", PipelineID: "daily", Started: time.Now().Add(-time.Hour)})
	srv := httptest.NewServer(testRouter(gdb, store))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	db.RecordRun(gdb, &pipeline.RunReport{RunID: "new", PipelineID: "daily", Started: time.Now()})

	var body strings.Builder
	buf := make([]byte, 4096)
	for !strings.Contains(body.String(), "event: run") {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			t.Fatalf("stream ended before run event: %v\n%s", err, body.String())
		}
	}
	if !strings.HasPrefix(body.String(), "event: connected") {
		t.Errorf("stream = %q", body.String())
	}
	if strings.Contains(body.String(), `"ID":"old"`) {
		t.Error("run recorded before connecting was streamed")
	}
}

func TestSSE_StreamsEveryRunBetweenPolls(t *testing.T) {
	pollInterval = 200 * time.Millisecond
	t.Cleanup(func() { pollInterval = 3 * time.Second })

	gdb, store := testEnv(t)
	srv := httptest.NewServer(testRouter(gdb, store))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	for _, id := range []string{"a", "b", "c"} {
		db.RecordRun(gdb, &pipeline.RunReport{RunID: id, PipelineID: "daily", Started: time.Now()})
	}

	var body strings.Builder
	buf := make([]byte, 4096)
	for strings.Count(body.String(), "event: run") < 3 {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			t.Fatalf("stream ended early: %v\n%s", err, body.String())
		}
	}
	for _, id := range []string{`"ID":"a"`, `"ID":"b"`, `"ID":"c"`} {
		if !strings.Contains(body.String(), id) {
			t.Errorf("stream missing %s", id)
		}
	}
}
