/*
scheduler.go - Lead-time notification scheduler

PURPOSE:
  Periodically sweeps live policies and emails recipients when a policy
  enters one of its three notification stages before expiry.

STAGES:
  With lead = policy override or settings.DefaultLeadDays and
  days = calendar days from today to the policy end date:
    first:    followUp <= days <= lead
    followup: deadline <= days <= followUp
    deadline: days <= deadline
  Stages are evaluated in that order, each gated by its own log row.

DELIVERY:
  At most once per (policy, stage). Every recipient is tried; the log row is
  written after the loop even when some sends failed, and also when there
  were no recipients at all. A failed policy never stops the sweep.

EXPIRY:
  Policies whose computed status is EXPIRED are skipped whatever their
  stored status. The last day (days = 0) is still EXPIRING.

RE-ENTRY:
  An atomic flag keeps one sweep per process. An optional Lease (Redis)
  keeps one sweep across processes. An overlapping tick is skipped.

USAGE:
  s := notify.NewScheduler(store, manager, mailer, log)
  s.Interval = 6 * time.Hour
  s.Start()
  defer s.Stop()

SEE ALSO:
  - resolver.go: Recipient resolution
  - lease.go: Cross-process guard
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/logger"
)

// ErrSweepInProgress is returned when another sweep holds the guard.
var ErrSweepInProgress = errors.New("notification sweep already in progress")

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 6 * time.Hour

// PolicySource is the storage the sweep reads and writes.
type PolicySource interface {
	ListPoliciesByStatus(ctx context.Context, statuses ...insurance.Status) ([]insurance.Policy, error)
	GetAsset(ctx context.Context, id string) (*insurance.Asset, error)
	HasNotification(ctx context.Context, policyID string, stage insurance.Stage) (bool, error)
	RecordNotification(ctx context.Context, entry insurance.NotificationLog) (bool, error)
}

// SettingsSource provides the current lead thresholds.
type SettingsSource interface {
	GetSettings(ctx context.Context) (insurance.NotificationSettings, error)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StartedAt         time.Time      `json:"startedAt"`
	FinishedAt        time.Time      `json:"finishedAt"`
	PoliciesChecked   int            `json:"policiesChecked"`
	EmailsSent        int            `json:"emailsSent"`
	StagesRecorded    int            `json:"stagesRecorded"`
	TransportFailures int            `json:"transportFailures"`
	PolicyFailures    int            `json:"policyFailures"`
	Failures          []PolicyResult `json:"failures,omitempty"`
}

// PolicyResult names a policy the sweep could not finish.
type PolicyResult struct {
	PolicyID string `json:"policyId"`
	Error    string `json:"error"`
}

// Scheduler runs notification sweeps on a ticker.
type Scheduler struct {
	Store      PolicySource
	Settings   SettingsSource
	Resolver   *Resolver
	Mailer     Mailer
	Lease      Lease
	Logger     logger.Logger
	Metrics    *Metrics
	Interval   time.Duration
	RunOnStart bool
	Now        func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	ticker  *time.Ticker
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time
}

// Store is what NewScheduler needs from persistence.
type Store interface {
	PolicySource
	RecipientSource
}

// NewScheduler creates a scheduler with DefaultInterval and private metrics.
func NewScheduler(store Store, settings SettingsSource, mailer Mailer, log logger.Logger) *Scheduler {
	return &Scheduler{
		Store:    store,
		Settings: settings,
		Resolver: &Resolver{Source: store},
		Mailer:   mailer,
		Logger:   log,
		Metrics:  NewMetrics(prometheus.NewRegistry()),
		Interval: DefaultInterval,
		Now:      time.Now,
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start begins sweeping every Interval. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return nil
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %v", s.Interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.nextRun = s.Now().Add(s.Interval)

	go s.run(ctx, s.ticker, s.done)

	s.Logger.Info("notification scheduler started", map[string]interface{}{
		"interval":     s.Interval.String(),
		"run_on_start": s.RunOnStart,
		"next_run":     s.nextRun,
	})
	return nil
}

// Stop halts the ticker and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	s.cancel()
	done := s.done
	s.ticker = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	<-done
	s.Logger.Info("notification scheduler stopped", nil)
}

// NextRunTime returns when the next tick fires, or the zero time when the
// scheduler is stopped.
func (s *Scheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// RunNow sweeps immediately at the current time.
func (s *Scheduler) RunNow(ctx context.Context) (SweepReport, error) {
	return s.RunOnce(ctx, s.Now())
}

func (s *Scheduler) run(ctx context.Context, ticker *time.Ticker, done chan struct{}) {
	defer close(done)

	if s.RunOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = s.Now().Add(s.Interval)
			s.mu.Unlock()
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, s.Now()); err != nil && !errors.Is(err, ErrSweepInProgress) {
		s.Logger.WithError(err).Error("notification sweep failed", nil)
	}
}

// =============================================================================
// SWEEP
// =============================================================================

// RunOnce performs one sweep at now. It returns ErrSweepInProgress when
// another sweep holds the in-process guard or the lease.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (SweepReport, error) {
	report := SweepReport{StartedAt: now}

	if !s.running.CompareAndSwap(false, true) {
		s.Metrics.Sweeps.WithLabelValues("skipped").Inc()
		s.Logger.Warn("notification sweep skipped, previous sweep still running", nil)
		return report, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.Lease != nil {
		release, ok, err := s.Lease.Acquire(ctx)
		if err != nil {
			s.Metrics.Sweeps.WithLabelValues("failed").Inc()
			return report, err
		}
		if !ok {
			s.Metrics.Sweeps.WithLabelValues("skipped").Inc()
			s.Logger.Info("notification sweep skipped, lease held elsewhere", nil)
			return report, ErrSweepInProgress
		}
		defer func() {
			if err := release(); err != nil {
				s.Logger.WithError(err).Warn("sweep lease release failed, held until TTL", nil)
			}
		}()
	}

	timer := prometheus.NewTimer(s.Metrics.SweepDuration)
	defer timer.ObserveDuration()

	settings, err := s.Settings.GetSettings(ctx)
	if err != nil {
		s.Metrics.Sweeps.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load notification settings: %w", err)
	}
	policies, err := s.Store.ListPoliciesByStatus(ctx, insurance.NotifiableStatuses...)
	if err != nil {
		s.Metrics.Sweeps.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("list policies: %w", err)
	}

	s.Logger.Info("notification sweep started", map[string]interface{}{
		"policies": len(policies),
	})

	for _, p := range policies {
		if err := ctx.Err(); err != nil {
			s.Metrics.Sweeps.WithLabelValues("failed").Inc()
			return report, err
		}
		// Stored status lags the calendar; a policy past its end date is
		// expired even while its row still reads ACTIVE or EXPIRING.
		if insurance.ComputeStatus(p, now) == insurance.StatusExpired {
			continue
		}
		report.PoliciesChecked++
		if err := s.processPolicy(ctx, p, settings, now, &report); err != nil {
			report.PolicyFailures++
			report.Failures = append(report.Failures, PolicyResult{PolicyID: p.ID, Error: err.Error()})
			s.Metrics.PolicyFailures.Inc()
			s.Logger.WithError(err).Error("notification processing failed", map[string]interface{}{
				"policy_id": p.ID,
				"asset_id":  p.AssetID,
			})
		}
	}

	report.FinishedAt = s.Now()
	s.Metrics.Sweeps.WithLabelValues("completed").Inc()
	s.Logger.Info("notification sweep finished", map[string]interface{}{
		"checked":            report.PoliciesChecked,
		"emails_sent":        report.EmailsSent,
		"stages_recorded":    report.StagesRecorded,
		"transport_failures": report.TransportFailures,
		"policy_failures":    report.PolicyFailures,
	})
	return report, nil
}

// DueStages returns the stages whose day window contains the policy's
// distance to its end date, in evaluation order.
func DueStages(p insurance.Policy, settings insurance.NotificationSettings, now time.Time) []insurance.Stage {
	days := insurance.CalendarDaysBetween(p.EndDate, now)

	lead := settings.DefaultLeadDays
	if p.NotificationOverrideDays != nil {
		lead = *p.NotificationOverrideDays
	}
	followUp := settings.FollowUpLeadDays
	deadline := settings.DeadlineLeadDays

	var due []insurance.Stage
	if days >= followUp && days <= lead {
		due = append(due, insurance.StageFirst)
	}
	if days >= deadline && days <= followUp {
		due = append(due, insurance.StageFollowUp)
	}
	if days <= deadline {
		due = append(due, insurance.StageDeadline)
	}
	return due
}

func (s *Scheduler) processPolicy(ctx context.Context, p insurance.Policy, settings insurance.NotificationSettings, now time.Time, report *SweepReport) error {
	due := DueStages(p, settings, now)
	if len(due) == 0 {
		return nil
	}

	var assetName string
	assetLoaded := false

	for _, stage := range due {
		sent, err := s.Store.HasNotification(ctx, p.ID, stage)
		if err != nil {
			return fmt.Errorf("check %s log: %w", stage, err)
		}
		if sent {
			continue
		}

		if !assetLoaded {
			asset, err := s.Store.GetAsset(ctx, p.AssetID)
			if err != nil {
				return fmt.Errorf("load asset: %w", err)
			}
			assetName = p.PolicyNumber
			if asset != nil {
				assetName = asset.Name
			}
			assetLoaded = true
		}

		recipients, err := s.Resolver.Resolve(ctx, p.AssetID)
		if err != nil {
			return fmt.Errorf("resolve recipients: %w", err)
		}
		if len(recipients) == 0 {
			s.Logger.Warn("no notification recipients configured, marking stage as sent", map[string]interface{}{
				"policy_id": p.ID,
				"stage":     string(stage),
			})
		}

		for _, to := range recipients {
			err := s.Mailer.SendNotification(ctx, Notification{
				To:        to,
				AssetID:   p.AssetID,
				AssetName: assetName,
				EndDate:   p.EndDate,
				Stage:     stage,
			})
			if err != nil {
				terr := &insurance.TransportError{To: to, Stage: stage, Err: err}
				report.TransportFailures++
				s.Metrics.EmailFailures.WithLabelValues(string(stage)).Inc()
				s.Logger.WithError(terr).Error("notification email failed", map[string]interface{}{
					"policy_id": p.ID,
					"stage":     string(stage),
					"recipient": to,
				})
				continue
			}
			report.EmailsSent++
			s.Metrics.EmailsSent.WithLabelValues(string(stage)).Inc()
		}

		inserted, err := s.Store.RecordNotification(ctx, insurance.NotificationLog{
			PolicyID: p.ID,
			Stage:    stage,
			SentAt:   now,
		})
		if err != nil {
			return fmt.Errorf("record %s log: %w", stage, err)
		}
		if inserted {
			report.StagesRecorded++
			s.Metrics.StagesRecorded.WithLabelValues(string(stage)).Inc()
		}
	}
	return nil
}
