// Package scheduler drives the daily market rhythm. Open, gate closure and
// launch fire once per day at their configured market-local clocks; the
// finish poll runs on a fixed interval until measurements let a session
// settle.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/models"
)

// jobTimeout bounds one trigger run. Gate closure computes ensembles for
// every resource and is the slowest of the four.
const jobTimeout = 10 * time.Minute

// SessionDriver is the slice of the session service the scheduler drives.
type SessionDriver interface {
	OpenSession(ctx context.Context, date time.Time) (*models.MarketSession, error)
	CloseSession(ctx context.Context, date time.Time) error
	LaunchSession(ctx context.Context, date time.Time) error
	FinishSessions(ctx context.Context) error
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler owns the cron loop behind the market lifecycle.
type Scheduler struct {
	cron   *cron.Cron
	driver SessionDriver
	logger *logrus.Logger
	jobs   []job

	maxRetries int
	retryDelay time.Duration
}

// New wires the four lifecycle jobs from the market clock configuration.
// Cron runs in the market timezone, so a DST shift moves the triggers with
// the local wall clock.
func New(driver SessionDriver, market config.MarketConfig, logger *logrus.Logger) (*Scheduler, error) {
	loc, err := market.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve market timezone: %w", err)
	}

	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		driver:     driver,
		logger:     logger,
		maxRetries: 2,
		retryDelay: 30 * time.Second,
	}

	openSpec, err := clockSpec(market.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("open_time: %w", err)
	}
	closeSpec, err := clockSpec(market.GateClosureTime)
	if err != nil {
		return nil, fmt.Errorf("gate_closure_time: %w", err)
	}
	launchSpec, err := clockSpec(market.LaunchTime)
	if err != nil {
		return nil, fmt.Errorf("launch_time: %w", err)
	}

	s.jobs = []job{
		{name: "session-open", spec: openSpec, run: func(ctx context.Context) error {
			_, err := driver.OpenSession(ctx, time.Now())
			return err
		}},
		{name: "gate-closure", spec: closeSpec, run: func(ctx context.Context) error {
			return driver.CloseSession(ctx, time.Now())
		}},
		{name: "session-launch", spec: launchSpec, run: func(ctx context.Context) error {
			return driver.LaunchSession(ctx, time.Now())
		}},
		{name: "session-finish", spec: "@every " + market.FinishPollInterval, run: driver.FinishSessions},
	}

	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(j) }); err != nil {
			return nil, fmt.Errorf("failed to schedule job %s: %w", j.name, err)
		}
		logger.WithFields(logrus.Fields{
			"job":      j.name,
			"schedule": j.spec,
			"timezone": market.Timezone,
		}).Info("Job added to scheduler")
	}
	return s, nil
}

// Start begins firing jobs at their schedules.
func (s *Scheduler) Start() {
	s.logger.Info("Starting market scheduler")
	s.cron.Start()
}

// Stop halts the schedule and waits for any running job to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping market scheduler")
	<-s.cron.Stop().Done()
	s.logger.Info("Market scheduler stopped")
}

// runJob executes one trigger with retries. Lifecycle operations are
// CAS-guarded, so a retry after a half-applied failure is safe.
func (s *Scheduler) runJob(j job) {
	started := time.Now()
	s.logger.WithField("job", j.name).Info("Job started")

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		lastErr = j.run(ctx)
		cancel()
		if lastErr == nil {
			break
		}
		s.logger.WithFields(logrus.Fields{
			"job":     j.name,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Job execution failed")
		if attempt < s.maxRetries {
			time.Sleep(s.retryDelay)
		}
	}

	duration := time.Since(started)
	if lastErr != nil {
		s.logger.WithFields(logrus.Fields{
			"job":      j.name,
			"duration": duration,
			"error":    lastErr.Error(),
		}).Error("Job failed after all retries")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job":      j.name,
		"duration": duration,
	}).Info("Job completed")
}

// clockSpec turns a market-local "HH:MM" clock into a daily cron spec.
func clockSpec(clock string) (string, error) {
	hour, minute, err := config.ParseClock(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
