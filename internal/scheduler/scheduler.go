// Package scheduler runs the periodic sync jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled task. The context carries the per-run timeout.
type Job func(ctx context.Context) error

// Scheduler manages the periodic jobs on a cron timetable.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]cron.EntryID),
	}
}

// AddJob registers a job under a cron schedule such as "*/15 * * * *".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		log.Printf("[scheduler] starting job: %s", name)
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Printf("[scheduler] job %s failed: %v", name, err)
			return
		}
		log.Printf("[scheduler] job %s completed in %v", name, time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	log.Printf("[scheduler] added job: %s (schedule: %s)", name, schedule)
	return nil
}

// AddIntervalJob registers a job that runs every interval, rounded
// down to whole minutes with a one-minute floor.
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, job Job) error {
	minutes := int(interval.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return s.AddJob(name, fmt.Sprintf("*/%d * * * *", minutes), job)
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling; the returned context is done once running
// jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// JobInfo describes one scheduled job.
type JobInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"nextRun"`
	LastRun time.Time `json:"lastRun"`
}

// ListJobs reports schedule state for every registered job.
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}
	return infos
}
