package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/notifier"
)

const (
	PopularRefreshJobName = "popular_refresh"
	CacheCleanupJobName   = "cache_cleanup"
)

// MaintenanceService is the part of the availability pipeline run on a schedule
type MaintenanceService interface {
	UpdatePopularContent(ctx context.Context) (availability.Summary, error)
	CleanupOldContent(ctx context.Context) (availability.Summary, error)
}

// MaintenanceJob runs one pipeline operation and optionally mails the outcome
type MaintenanceJob struct {
	name     string
	run      func(ctx context.Context) (availability.Summary, error)
	notifier notifier.NotifierInterface
}

// NewPopularRefreshJob re-checks the first popular page of movies and shows
func NewPopularRefreshJob(svc MaintenanceService, n notifier.NotifierInterface) *MaintenanceJob {
	return &MaintenanceJob{name: PopularRefreshJobName, run: svc.UpdatePopularContent, notifier: n}
}

// NewCacheCleanupJob removes records past the retention window
func NewCacheCleanupJob(svc MaintenanceService, n notifier.NotifierInterface) *MaintenanceJob {
	return &MaintenanceJob{name: CacheCleanupJobName, run: svc.CleanupOldContent, notifier: n}
}

// Name returns the name of the job
func (j *MaintenanceJob) Name() string {
	return j.name
}

// Run executes the job
func (j *MaintenanceJob) Run(ctx context.Context) error {
	summary, err := j.run(ctx)
	if err != nil {
		log.Printf("Job %s failed: %v", j.name, err)
	} else {
		log.Printf("Job %s: %s", j.name, summary)
	}

	if j.notifier != nil {
		if notifyErr := j.notifier.NotifyMaintenanceReport(j.name, summary, err); notifyErr != nil {
			log.Printf("Failed to send email notification: %v", notifyErr)
		}
	}

	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}

// RegisterMaintenanceJobs schedules the popular refresh and cache cleanup jobs
func RegisterMaintenanceJobs(s *Scheduler, svc MaintenanceService, n notifier.NotifierInterface, popularSpec, cleanupSpec string) error {
	if err := s.AddJob(popularSpec, NewPopularRefreshJob(svc, n)); err != nil {
		return err
	}
	return s.AddJob(cleanupSpec, NewCacheCleanupJob(svc, n))
}
