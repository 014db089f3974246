// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// SchedulerConfig sets the cadence of the background jobs.
type SchedulerConfig struct {
	BadgeRepairInterval time.Duration
	BadgeRepairBatch    int
	SnapshotHour        uint
	Location            *time.Location
}

// Scheduler runs the badge repair and snapshot export jobs.
type Scheduler struct {
	sched    gocron.Scheduler
	badges   *BadgeService
	exporter *SnapshotExporter
	cfg      SchedulerConfig
}

// NewScheduler registers the jobs; exporter may be nil to skip snapshots.
func NewScheduler(badges *BadgeService, exporter *SnapshotExporter, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BadgeRepairBatch <= 0 {
		cfg.BadgeRepairBatch = 100
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, badges: badges, exporter: exporter, cfg: cfg}

	// Every interval: re-run badge passes that failed after a completion
	if cfg.BadgeRepairInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.BadgeRepairInterval),
			gocron.NewTask(s.repairBadges),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName("badge-repair"),
		); err != nil {
			return nil, fmt.Errorf("register badge repair job: %w", err)
		}
	}

	// Daily: export progress snapshots
	if exporter != nil {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(cfg.SnapshotHour, 0, 0))),
			gocron.NewTask(s.exportSnapshots),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName("snapshot-export"),
		); err != nil {
			return nil, fmt.Errorf("register snapshot job: %w", err)
		}
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	log.Printf("⏰ [SCHED] Started %d job(s)", len(s.sched.Jobs()))
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) repairBadges() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.badges.RepairPendingPasses(ctx, s.cfg.BadgeRepairBatch); err != nil {
		log.Printf("[SCHED] Badge repair failed: %v", err)
	}
}

func (s *Scheduler) exportSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if _, err := s.exporter.ExportAll(ctx, time.Now().In(s.cfg.Location)); err != nil {
		log.Printf("[SCHED] Snapshot export failed: %v", err)
	}
}
