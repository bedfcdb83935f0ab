// Package schedule runs the periodic partial and full syncs.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "fsqcal/internal/log"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func()
}

// Scheduler wraps a cron instance with one "@every" entry per job. Jobs
// run on their own goroutines; a job that is still running when its next
// tick arrives is skipped rather than stacked. Different jobs never block
// each other.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func New(jobs ...Job) (*Scheduler, error) {
	c := cron.New(cron.WithLogger(cronLogger{}))
	s := &Scheduler{cron: c, entries: make(map[string]cron.EntryID, len(jobs))}

	for _, j := range jobs {
		if j.Interval <= 0 {
			return nil, fmt.Errorf("schedule: job %q has non-positive interval %s", j.Name, j.Interval)
		}
		if _, dup := s.entries[j.Name]; dup {
			return nil, fmt.Errorf("schedule: duplicate job %q", j.Name)
		}

		name, run := j.Name, j.Run
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
			appLog.Info("scheduled job fired", "job", name)
			run()
		}))
		id := c.Schedule(cron.Every(j.Interval), wrapped)
		s.entries[j.Name] = id
		appLog.Info("scheduled job registered", "job", j.Name, "interval", j.Interval.String())
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out; jobs still running")
	}
}

// Next returns the next activation time of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
