// Package scheduler runs the cache maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobRunning is returned when a job is started while its previous run is
// still going
var ErrJobRunning = errors.New("job is already running")

// Job is one maintenance task
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobStatus describes a registered job and its latest run
type JobStatus struct {
	Name         string
	Spec         string
	Next         time.Time
	Running      bool
	LastRun      time.Time
	LastDuration time.Duration
	LastErr      error
}

type entry struct {
	job     Job
	spec    string
	id      cron.EntryID
	running bool
	lastRun time.Time
	lastDur time.Duration
	lastErr error
}

// Scheduler runs registered jobs on their cron specs. A job never overlaps
// with itself: a tick that arrives while it is running is skipped.
type Scheduler struct {
	cron      *cron.Cron
	timeout   time.Duration
	mu        sync.Mutex
	jobs      map[string]*entry
	isRunning bool
}

// NewScheduler creates a scheduler whose specs include a seconds field
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cron.VerbosePrintfLogger(log.Default())),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		jobs:    make(map[string]*entry),
		timeout: 30 * time.Minute,
	}
}

// AddJob registers job under spec
func (s *Scheduler) AddJob(spec string, job Job) error {
	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		if err := s.run(name); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Printf("[scheduler] job %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", name, err)
	}

	s.jobs[name] = &entry{job: job, spec: spec, id: id}
	return nil
}

// run executes a job with the scheduler timeout and records the outcome
func (s *Scheduler) run(name string) error {
	s.mu.Lock()
	e, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s not registered", name)
	}
	if e.running {
		s.mu.Unlock()
		log.Printf("[scheduler] skipping %s, previous run still in progress", name)
		return fmt.Errorf("%s: %w", name, ErrJobRunning)
	}
	e.running = true
	s.mu.Unlock()

	log.Printf("[scheduler] starting %s", name)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	err := e.job.Run(ctx)
	cancel()
	took := time.Since(start)

	s.mu.Lock()
	e.running = false
	e.lastRun = start
	e.lastDur = took
	e.lastErr = err
	s.mu.Unlock()

	if err == nil {
		log.Printf("[scheduler] completed %s in %s", name, took.Round(time.Millisecond))
	}
	return err
}

// Jobs returns the names of the registered jobs
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns every registered job ordered by name. Next is zero until
// the scheduler is started.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, JobStatus{
			Name:         name,
			Spec:         e.spec,
			Next:         s.cron.Entry(e.id).Next,
			Running:      e.running,
			LastRun:      e.lastRun,
			LastDuration: e.lastDur,
			LastErr:      e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.cron.Start()
	s.isRunning = true
	log.Println("[scheduler] started")
}

// Stop stops scheduling and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

// RunJobNow runs a job immediately outside of its schedule
func (s *Scheduler) RunJobNow(name string) error {
	log.Printf("[scheduler] manual run of %s", name)
	return s.run(name)
}
