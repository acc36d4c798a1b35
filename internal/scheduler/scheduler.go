// Package scheduler drives the periodic background work: the nudge sweep
// and, when enabled, IMAP inbox polling.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/config"
	"github.com/max-delvita/scheduler-v4/internal/mail"
	"github.com/max-delvita/scheduler-v4/internal/nudge"
	"github.com/max-delvita/scheduler-v4/internal/workflow"
)

// InboundSource is an optional pull-based inbound channel (IMAP polling).
type InboundSource interface {
	FetchNew(ctx context.Context) ([]mail.InboundPayload, error)
	Close() error
}

// Scheduler manages the periodic sweep
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	sweeper   *nudge.Sweeper
	workflow  *workflow.Workflow
	source    InboundSource
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler. source may be nil when IMAP polling
// is disabled.
func NewScheduler(cfg *config.SchedulerConfig, sweeper *nudge.Sweeper, wf *workflow.Workflow, source InboundSource) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		config:   cfg,
		sweeper:  sweeper,
		workflow: wf,
		source:   source,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.runSweep)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runSweep is the periodic job: poll IMAP first (when enabled) so fresh
// replies are counted before nudging anyone, then run the nudge sweep.
func (s *Scheduler) runSweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping sweep")
		return
	}
	s.mu.RUnlock()

	startTime := time.Now()

	if s.source != nil {
		s.pollInbound()
	}

	summary := s.sweeper.Sweep(s.ctx)

	logrus.Infof("Sweep cycle completed in %v (%d reminders, %d escalations)",
		time.Since(startTime), summary.RemindersSent, summary.Escalations)
}

func (s *Scheduler) pollInbound() {
	payloads, err := s.source.FetchNew(s.ctx)
	if err != nil {
		logrus.Errorf("Failed to poll inbound mailbox: %v", err)
		return
	}
	logrus.Infof("Fetched %d new inbound emails", len(payloads))

	for i := range payloads {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		outcome := s.workflow.HandleInbound(s.ctx, &payloads[i])
		logrus.WithFields(logrus.Fields{
			"status":     outcome.Status,
			"session_id": outcome.SessionID,
		}).Debug("Processed polled inbound email")
	}
}

// RunOnce runs the sweep once (for manual triggering)
func (s *Scheduler) RunOnce() {
	logrus.Info("Running sweep once")
	s.runSweep()
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	if !s.IsRunning() {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for in-flight jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
