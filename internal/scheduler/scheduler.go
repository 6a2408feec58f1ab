// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package scheduler runs periodic jobs on cron schedules.
//
// Every run gets a unique ID in its logs. A run is skipped if the same job is
// already running, possibly on another replica, or if its tick has already
// been handled.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"go.astrophena.name/ebbinghaus/internal/dedup"
	"go.astrophena.name/ebbinghaus/internal/joblock"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Config configures a [Scheduler].
type Config struct {
	// Location is the time zone of the schedules. Defaults to UTC.
	Location *time.Location
	// Locker prevents concurrent runs of a job. Defaults to an in-process
	// lock.
	Locker joblock.Locker
	// Ticks, if set, makes each tick of a job run at most once across
	// replicas.
	Ticks  dedup.Set
	Logger *slog.Logger
}

// Scheduler runs jobs on cron schedules. It is safe for concurrent use.
type Scheduler struct {
	cron   *cron.Cron
	locker joblock.Locker
	ticks  dedup.Set
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	jobs    map[string]*entry
	running bool
}

type entry struct {
	id     string
	name   string
	spec   string
	cronID cron.EntryID
}

// New returns a new Scheduler. Call [Scheduler.Start] to start running jobs.
func New(c Config) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(cmp.Or(c.Location, time.UTC))),
		locker: c.Locker,
		ticks:  c.Ticks,
		logger: cmp.Or(c.Logger, slog.Default()),
		ctx:    context.Background(),
		jobs:   make(map[string]*entry),
	}
	if s.locker == nil {
		s.locker = &joblock.Local{}
	}
	return s
}

// Add schedules job under id, replacing a job with the same id. spec is a
// standard five-field cron expression or a descriptor like "@every 1m".
func (s *Scheduler) Add(id, name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{id: id, name: name, spec: spec}
	cronID, err := s.cron.AddFunc(spec, func() { s.run(id, job, time.Now()) })
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", id, err)
	}
	e.cronID = cronID

	if old, ok := s.jobs[id]; ok {
		s.cron.Remove(old.cronID)
	}
	s.jobs[id] = e
	s.logger.Debug("scheduled job", "job", id, "spec", spec)
	return nil
}

// Remove unschedules the job with the given id and reports whether it
// existed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(id)
}

func (s *Scheduler) remove(id string) bool {
	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(e.cronID)
	delete(s.jobs, id)
	return true
}

func userPrefix(userID int64) string { return "user_" + strconv.FormatInt(userID, 10) + "_" }

// AddUserJob schedules a job that belongs to a user. Its id is
// "user_{userID}_{name}".
func (s *Scheduler) AddUserJob(userID int64, name, spec string, job Job) error {
	return s.Add(userPrefix(userID)+name, name, spec, job)
}

// RemoveUserJobs unschedules all jobs of a user and returns how many were
// removed.
func (s *Scheduler) RemoveUserJobs(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := userPrefix(userID)
	var n int
	for id := range s.jobs {
		if strings.HasPrefix(id, prefix) && s.remove(id) {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("removed user jobs", "user_id", userID, "count", n)
	}
	return n
}

// Start starts running jobs in the background. Runs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	for _, js := range s.Status().Jobs {
		s.logger.Info("scheduled job", "job", js.ID, "name", js.Name, "next_run", js.NextRun)
	}
}

// Stop stops scheduling new runs and waits for the running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Status describes the scheduler.
type Status struct {
	IsRunning bool        `json:"is_running"`
	JobsCount int         `json:"jobs_count"`
	Jobs      []JobStatus `json:"jobs"`
}

// JobStatus describes a scheduled job.
type JobStatus struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run"`
}

// Status returns the current state of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		IsRunning: s.running,
		JobsCount: len(s.jobs),
		Jobs:      make([]JobStatus, 0, len(s.jobs)),
	}
	for _, e := range s.jobs {
		js := JobStatus{ID: e.id, Name: e.name}
		if next := s.cron.Entry(e.cronID).Next; !next.IsZero() {
			js.NextRun = &next
		}
		st.Jobs = append(st.Jobs, js)
	}
	slices.SortFunc(st.Jobs, func(a, b JobStatus) int { return strings.Compare(a.ID, b.ID) })
	return st
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(id string, job Job, tick time.Time) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	logger := s.logger.With("job", id, "run_id", uuid.NewString())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if s.ticks != nil {
		key := "job:" + id + ":" + strconv.FormatInt(tick.Truncate(time.Minute).Unix(), 10)
		seen, err := s.ticks.Seen(ctx, key)
		if err != nil {
			logger.Error("failed to check job tick", "err", err)
			return
		}
		if seen {
			logger.Debug("tick already handled elsewhere, skipping")
			return
		}
	}

	unlock, ok, err := s.locker.TryLock(ctx, "job:"+id)
	if err != nil {
		logger.Error("failed to acquire job lock", "err", err)
		return
	}
	if !ok {
		logger.Info("job is already running, skipping")
		return
	}
	defer unlock()

	start := time.Now()
	logger.Info("job started")
	if err := job(ctx); err != nil {
		logger.Error("job failed", "err", err, "duration", time.Since(start))
		return
	}
	logger.Info("job finished", "duration", time.Since(start))
}
