package service

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nmoretto/shipdeck/pkg/icron"
	"github.com/nmoretto/shipdeck/pkg/log"
)

// SweepResult reports what one retention sweep removed.
type SweepResult struct {
	JobsDeleted     int   `json:"jobs_deleted"`
	SessionsDeleted int64 `json:"sessions_deleted"`
	SkippedActive   int   `json:"skipped_active"`
}

// Stats is the admin dashboard snapshot.
type Stats struct {
	TotalJobs     int            `json:"total_jobs"`
	ByStatus      map[string]int `json:"by_status"`
	ByKind        map[string]int `json:"by_kind"`
	TotalCostUSD  float64        `json:"total_cost_usd"`
	StorageBytes  int64          `json:"storage_bytes"`
	Storage       string         `json:"storage"`
	RetentionDays int            `json:"retention_days"`
	SweepCron     string         `json:"sweep_cron"`
	SweepLast     *time.Time     `json:"sweep_last,omitempty"`
	SweepNext     *time.Time     `json:"sweep_next,omitempty"`
}

// Schedule registers the retention sweep on the cron engine. The engine is
// started and stopped by the caller.
func (s *Service) Schedule() error {
	log.Info("Scheduling retention sweep: %s", s.cfg.Retention.SweepCron)
	_, err := s.cron.AddFunc(s.cfg.Retention.SweepCron, func() {
		result, err := s.Sweep(context.Background())
		if err != nil {
			log.Error("Retention sweep failed: %v", err)
			return
		}
		log.Info("Retention sweep removed %d jobs and %d expired sessions (%d active skipped)",
			result.JobsDeleted, result.SessionsDeleted, result.SkippedActive)
	})
	return err
}

// Sweep deletes terminal jobs older than the retention window together with
// their artifacts, and clears expired sessions. Concurrent triggers (cron
// plus the manual endpoint) collapse into one run.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	v, err, _ := s.sweeps.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	if err != nil {
		return SweepResult{}, err
	}
	return v.(SweepResult), nil
}

func (s *Service) sweep(ctx context.Context) (SweepResult, error) {
	cfg, err := s.effectiveConfig(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Retention.Days)

	var result SweepResult
	for _, rec := range s.registry.List("", 0) {
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if !rec.Status.Terminal() {
			// Cannot happen once the executor ceiling is in force, but a
			// stuck row must never lose a live job its artifacts.
			log.Warn("Job %s predates the retention window but is still %s, skipped", rec.ID, rec.Status)
			result.SkippedActive++
			continue
		}
		if err := s.artifacts.DeleteJob(rec.ID); err != nil {
			log.Error("Failed to delete artifacts of job %s: %v", rec.ID, err)
			continue
		}
		if err := s.registry.Delete(ctx, rec.ID); err != nil {
			log.Error("Failed to delete job %s: %v", rec.ID, err)
			continue
		}
		result.JobsDeleted++
	}

	deleted, err := s.store.DeleteExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		log.Error("Failed to delete expired sessions: %v", err)
	} else {
		result.SessionsDeleted = deleted
	}
	return result, nil
}

// StatsSnapshot aggregates job counts, spend, artifact storage and the sweep
// schedule for the admin dashboard.
func (s *Service) StatsSnapshot(ctx context.Context) (Stats, error) {
	cfg, err := s.effectiveConfig(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus:      make(map[string]int),
		ByKind:        make(map[string]int),
		RetentionDays: cfg.Retention.Days,
		SweepCron:     s.cfg.Retention.SweepCron,
	}
	for _, rec := range s.registry.List("", 0) {
		stats.TotalJobs++
		stats.ByStatus[string(rec.Status)]++
		stats.ByKind[string(rec.Kind)]++
		stats.TotalCostUSD += rec.Usage.CostUSD
	}

	size, err := s.artifacts.TotalSize()
	if err != nil {
		log.Warn("Failed to size the artifact store: %v", err)
	} else {
		stats.StorageBytes = size
		stats.Storage = humanize.Bytes(uint64(size))
	}

	if info, err := icron.GetTriggerInfo(s.cfg.Retention.SweepCron, time.Now()); err == nil {
		if !info.Last.IsZero() {
			last := info.Last
			stats.SweepLast = &last
		}
		next := info.Next
		stats.SweepNext = &next
	}
	return stats, nil
}
