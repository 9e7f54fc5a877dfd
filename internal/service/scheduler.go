package service

import (
	"context"
	"sync"
	"time"

	"wamux/internal/constants"

	"github.com/sirupsen/logrus"
)

// MediaCleaner removes stored media older than a given age.
type MediaCleaner interface {
	CleanupOldFiles(maxAge time.Duration) (int, error)
}

// Scheduler periodically prunes captured media.
type Scheduler struct {
	cleaner  MediaCleaner
	interval time.Duration
	logger   logrus.FieldLogger
	stopCh   chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	retentionDays int
}

func NewScheduler(cleaner MediaCleaner, retentionDays, intervalHours int, logger logrus.FieldLogger) *Scheduler {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultMediaRetention
	}
	if intervalHours <= 0 {
		intervalHours = constants.DefaultMediaCleanupHours
	}
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		interval:      time.Duration(intervalHours) * time.Hour,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start runs one cleanup immediately, then one per interval, until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting media cleanup scheduler")

	s.runCleanup()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// SetRetention changes the retention used by the next cleanup. Non-positive
// values are ignored.
func (s *Scheduler) SetRetention(days int) {
	if days <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retentionDays = days
}

// Retention returns the current retention in days.
func (s *Scheduler) Retention() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retentionDays
}

func (s *Scheduler) runCleanup() {
	days := s.Retention()
	logger := s.logger.WithField("retention_days", days)
	logger.Debug("Running media cleanup")

	removed, err := s.cleaner.CleanupOldFiles(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		logger.WithError(err).Error("Failed to clean up old media")
		return
	}
	logger.WithField(constants.LogFieldCount, removed).Info("Media cleanup completed")
}
