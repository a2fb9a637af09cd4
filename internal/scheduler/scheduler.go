// Package scheduler runs the pipelines on cron schedules for long-lived
// deployments.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zulandar/empatia/internal/logging"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is one scheduled task. Its error is logged; the schedule continues.
type Job func(ctx context.Context) error

// Scheduler fires jobs on their cron specs. A job still running when its next
// fire time arrives is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	ctx  context.Context
	jobs []entry
}

type entry struct {
	name string
	spec string
	id   cron.EntryID
}

// New returns an empty Scheduler using loc for fire times.
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	log = logging.Component(log, "scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
		ctx: context.Background(),
	}
}

// Add registers job under name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.log.Info().Str("job", name).Msg("job started")
		if err := job(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("job failed")
			return
		}
		s.log.Info().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %s: invalid spec %q: %w", name, spec, err)
	}
	s.jobs = append(s.jobs, entry{name: name, spec: spec, id: id})
	return nil
}

// Planned describes the next fire time of a registered job.
type Planned struct {
	Name string
	Spec string
	Next time.Time
}

// Plan lists every job with its next fire time after now.
func (s *Scheduler) Plan(now time.Time) []Planned {
	out := make([]Planned, 0, len(s.jobs))
	for _, e := range s.jobs {
		sched := s.cron.Entry(e.id).Schedule
		if sched == nil {
			continue
		}
		out = append(out, Planned{Name: e.name, Spec: e.spec, Next: sched.Next(now)})
	}
	return out
}

// Run starts the schedule and blocks until ctx is cancelled. Jobs receive
// ctx; Run returns once running jobs have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	for _, p := range s.Plan(time.Now()) {
		s.log.Info().Str("job", p.Name).Str("spec", p.Spec).Time("next", p.Next).Msg("scheduled")
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// NextDuration parses a 5-field cron expression and returns the duration
// from now until its next fire time.
func NextDuration(expr string, now time.Time) (time.Duration, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
