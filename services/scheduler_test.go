package services

import (
	"context"
	"testing"
	"time"
)

func TestNewScheduler_RegistersJobs(t *testing.T) {
	eng, st := newTestEngine(t)

	tests := []struct {
		name     string
		exporter *SnapshotExporter
		interval time.Duration
		want     int
	}{
		{"nothing enabled", nil, 0, 0},
		{"repair only", nil, time.Hour, 1},
		{"repair and snapshots", NewSnapshotExporter(st, &fakeUploader{}), time.Hour, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScheduler(eng.Badges, tt.exporter, SchedulerConfig{
				BadgeRepairInterval: tt.interval,
				SnapshotHour:        3,
			})
			if err != nil {
				t.Fatalf("NewScheduler() error: %v", err)
			}
			if got := len(s.sched.Jobs()); got != tt.want {
				t.Errorf("jobs = %d, want %d", got, tt.want)
			}
			s.Start()
			if err := s.Shutdown(); err != nil {
				t.Errorf("Shutdown() error: %v", err)
			}
		})
	}
}

func TestScheduler_RepairJobBody(t *testing.T) {
	eng, st := newTestEngine(t)
	if err := st.SetMerge(context.Background(), "u1", map[string]any{"badge_pass_pending": true}); err != nil {
		t.Fatal(err)
	}

	s, err := NewScheduler(eng.Badges, nil, SchedulerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	s.repairBadges()

	pending, _ := st.ListPendingBadgePasses(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("pending = %v, want cleared", pending)
	}
}
