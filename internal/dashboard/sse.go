package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	// pollInterval is how often the event stream looks for new runs.
	pollInterval      = 3 * time.Second
	heartbeatInterval = 15 * time.Second
)

// handleSSE streams a "run" event for every run recorded after the client
// connected, including several recorded between two polls.
func handleSSE(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Read before flushing so a run recorded right after connecting is
		// still reported.
		cursor, _ := newRunCursor(gdb)

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		emit := func(event string, data any) {
			writeSSE(c.Writer, event, data)
			c.Writer.Flush()
		}
		emit("connected", gin.H{"since": cursor.at})

		poll := time.NewTicker(pollInterval)
		defer poll.Stop()
		beat := time.NewTicker(heartbeatInterval)
		defer beat.Stop()

		done := c.Request.Context().Done()
		for {
			select {
			case <-done:
				return
			case now := <-beat.C:
				emit("heartbeat", gin.H{"at": now.UTC().Format(time.RFC3339)})
			case <-poll.C:
				runs, err := cursor.next(gdb)
				if err != nil {
					continue
				}
				for _, run := range runs {
					emit("run", run)
				}
			}
		}
	}
}

func writeSSE(w io.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
