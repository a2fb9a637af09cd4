// Package notify posts run summaries and operator alerts to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/pipeline"
)

// Sidebar colors by severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

const maxRetries = 3

// Message is a platform-neutral chat message.
type Message struct {
	Text   string
	Events []Event
}

// Event is a structured attachment of a message.
type Event struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Field is a key-value pair shown in an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Sender delivers messages to one platform.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Notifier fans messages out to every configured sender. It implements
// pipeline.Observer and reports finished runs.
type Notifier struct {
	senders      []Sender
	onlyFailures bool
	log          zerolog.Logger
}

var _ pipeline.Observer = (*Notifier)(nil)

// New returns a Notifier. With onlyFailures set, runs where every date is
// done are not reported.
func New(senders []Sender, onlyFailures bool, log zerolog.Logger) *Notifier {
	return &Notifier{senders: senders, onlyFailures: onlyFailures, log: logging.Component(log, "notify")}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// DateFinished is a no-op; runs are reported as a whole.
func (n *Notifier) DateFinished(context.Context, string, string, pipeline.DateResult) {}

// RunFinished posts the run summary. Delivery errors are logged.
func (n *Notifier) RunFinished(ctx context.Context, report *pipeline.RunReport) {
	if !n.Enabled() || len(report.Dates) == 0 {
		return
	}
	if n.onlyFailures && report.OK() {
		return
	}
	if err := n.Send(ctx, FormatRun(report)); err != nil {
		n.log.Warn().Err(err).Str(logging.FieldRunID, report.RunID).Msg("run summary not delivered")
	}
}

// Alert reports an error that stopped a pipeline before any date ran, such
// as a corrupt checkpoint.
func (n *Notifier) Alert(ctx context.Context, pipelineID string, err error) error {
	if !n.Enabled() {
		return nil
	}
	return n.Send(ctx, Message{
		Text: fmt.Sprintf("%s pipeline stopped", pipelineID),
		Events: []Event{{
			Title: fmt.Sprintf("%s: operator action required", pipelineID),
			Body:  err.Error(),
			Color: ColorError,
		}},
	})
}

// Send delivers msg through every sender and joins their errors.
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FormatRun renders a run report.
func FormatRun(r *pipeline.RunReport) Message {
	color := ColorSuccess
	status := "completed"
	switch {
	case r.Count(pipeline.Failed) > 0 && r.Count(pipeline.Failed) == len(r.Dates):
		color, status = ColorError, "failed"
	case !r.OK():
		color, status = ColorWarning, "completed with failures"
	}

	evt := Event{
		Title: fmt.Sprintf("%s run %s", r.PipelineID, status),
		Color: color,
		Fields: []Field{
			{Name: "Dates", Value: dateSpan(r), Short: true},
			{Name: "Took", Value: r.Finished.Sub(r.Started).Round(time.Second).String(), Short: true},
			{Name: "Succeeded", Value: fmt.Sprint(r.Count(pipeline.Succeeded)), Short: true},
			{Name: "Skipped", Value: fmt.Sprint(r.Count(pipeline.Skipped)), Short: true},
			{Name: "Partially failed", Value: fmt.Sprint(r.Count(pipeline.PartiallyFailed)), Short: true},
			{Name: "Failed", Value: fmt.Sprint(r.Count(pipeline.Failed)), Short: true},
		},
	}

	var lines []string
	for _, d := range r.Dates {
		if d.Outcome.Done() {
			continue
		}
		line := fmt.Sprintf("%s %s", d.Date, d.Outcome)
		if d.Err != nil {
			line += ": " + truncate(d.Err.Error(), 200)
		}
		lines = append(lines, line)
	}
	evt.Body = strings.Join(lines, "\n")
	if r.Saved {
		evt.Fields = append(evt.Fields, Field{Name: "Queued for retry", Value: fmt.Sprint(len(r.Checkpoint.UncompletedDates)), Short: true})
	}

	return Message{Text: evt.Title, Events: []Event{evt}}
}

func dateSpan(r *pipeline.RunReport) string {
	if len(r.Dates) == 0 {
		return "none"
	}
	first, last := r.Dates[0].Date, r.Dates[len(r.Dates)-1].Date
	if first == last {
		return first.String()
	}
	return fmt.Sprintf("%s .. %s (%d)", first, last, len(r.Dates))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// retryRateLimited calls fn again while limited reports a rate limit, waiting
// the advertised delay or an exponential one starting at base.
func retryRateLimited(ctx context.Context, base time.Duration, limited func(error) (time.Duration, bool), fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.RandomizationFactor = 0

	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if last = fn(); last == nil {
			return struct{}{}, nil
		}
		wait, ok := limited(last)
		switch {
		case !ok:
			return struct{}{}, backoff.Permanent(last)
		case wait > 0:
			return struct{}{}, &backoff.RetryAfterError{Duration: wait}
		}
		return struct{}{}, last
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxRetries+1))
	if err == nil || ctx.Err() != nil {
		return err
	}
	return last
}
