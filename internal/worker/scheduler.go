package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobScheduler runs a list of jobs on a fixed interval. Jobs run one after
// another on the scheduler goroutine; a job that fans out work hands it to a
// Pool itself, so a tick never waits on a worker it occupies.
type JobScheduler struct {
	Name     string
	Interval time.Duration
	jobs     []Job
	mu       sync.RWMutex
}

func NewJobScheduler(name string, interval time.Duration) *JobScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &JobScheduler{
		Name:     name,
		Interval: interval,
		jobs:     make([]Job, 0),
	}
}

func (s *JobScheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Run executes the jobs once immediately and then on every tick until ctx
// is cancelled.
func (s *JobScheduler) Run(ctx context.Context, managerWg *sync.WaitGroup) {
	defer managerWg.Done()
	log.Printf("[Scheduler %s] Running every %s.\n", s.Name, s.Interval)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.runJobs(ctx)
	for {
		select {
		case <-ticker.C:
			s.runJobs(ctx)
		case <-ctx.Done():
			log.Printf("[Scheduler %s] Shutting down.\n", s.Name)
			return
		}
	}
}

func (s *JobScheduler) runJobs(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.RUnlock()

	for i, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, i, job)
	}
}

func (s *JobScheduler) runJob(ctx context.Context, index int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler %s] FATAL: Panic recovered in job %d: %v\n", s.Name, index, r)
		}
	}()

	if err := job(ctx); err != nil {
		log.Printf("[Scheduler %s] Job %d failed: %v\n", s.Name, index, err)
	}
}
