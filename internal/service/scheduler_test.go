package service

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) CleanupOldFiles(maxAge time.Duration) (int, error) {
	args := m.Called(maxAge)
	return args.Int(0), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestScheduler_RunCleanup(t *testing.T) {
	cleaner := &mockCleaner{}
	scheduler := NewScheduler(cleaner, 30, 24, quietLogger())

	cleaner.On("CleanupOldFiles", 30*24*time.Hour).Return(3, nil).Once()

	scheduler.runCleanup()

	cleaner.AssertExpectations(t)
}

func TestScheduler_RunCleanupError(t *testing.T) {
	cleaner := &mockCleaner{}
	scheduler := NewScheduler(cleaner, 7, 24, quietLogger())

	cleaner.On("CleanupOldFiles", 7*24*time.Hour).Return(0, assert.AnError).Once()

	scheduler.runCleanup()

	cleaner.AssertExpectations(t)
}

func TestScheduler_SetRetention(t *testing.T) {
	cleaner := &mockCleaner{}
	scheduler := NewScheduler(cleaner, 30, 24, quietLogger())

	scheduler.SetRetention(7)
	scheduler.SetRetention(0)
	assert.Equal(t, 7, scheduler.Retention())

	cleaner.On("CleanupOldFiles", 7*24*time.Hour).Return(1, nil).Once()
	scheduler.runCleanup()
	cleaner.AssertExpectations(t)
}

func TestScheduler_Defaults(t *testing.T) {
	scheduler := NewScheduler(&mockCleaner{}, 0, 0, quietLogger())

	assert.Equal(t, 30, scheduler.Retention())
	assert.Equal(t, 24*time.Hour, scheduler.interval)
}

func TestScheduler_StartStop(t *testing.T) {
	cleaner := &mockCleaner{}
	scheduler := NewScheduler(cleaner, 30, 24, quietLogger())

	cleaner.On("CleanupOldFiles", mock.Anything).Return(0, nil).Once()

	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(cleaner.Calls) == 1
	}, time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	cleaner.AssertExpectations(t)
}

func TestScheduler_ContextCancel(t *testing.T) {
	cleaner := &mockCleaner{}
	scheduler := NewScheduler(cleaner, 30, 24, quietLogger())
	cleaner.On("CleanupOldFiles", mock.Anything).Return(0, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}
