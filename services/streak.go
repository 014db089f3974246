package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"progression-system/models"
	"progression-system/store"
)

// StreakOutcome names the transition a touch produced.
type StreakOutcome string

const (
	StreakStarted   StreakOutcome = "started"   // first ever touch
	StreakUnchanged StreakOutcome = "unchanged" // already counted today
	StreakContinued StreakOutcome = "continued" // consecutive day, bonus XP
	StreakReset     StreakOutcome = "reset"     // gap of two or more days
	StreakSkewed    StreakOutcome = "skewed"    // now is before the last touch; ignored
)

// DayDiff is the number of calendar days from last to now, both taken in
// now's location. Times of day are ignored, so 23:59 → 00:01 is one day.
func DayDiff(last, now time.Time) int {
	ly, lm, ld := last.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	// Compare as UTC midnights so DST shifts never produce 23h or 25h days.
	l := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(n.Sub(l).Hours() / 24)
}

// NextStreak applies the streak state machine to (streakDays, lastSeenAt).
func NextStreak(streakDays int, lastSeenAt *time.Time, now time.Time) (int, StreakOutcome) {
	if lastSeenAt == nil {
		return 1, StreakStarted
	}
	switch diff := DayDiff(*lastSeenAt, now); {
	case diff < 0:
		return streakDays, StreakSkewed
	case diff == 0:
		return streakDays, StreakUnchanged
	case diff == 1:
		return streakDays + 1, StreakContinued
	default:
		return 1, StreakReset
	}
}

// StreakResult reports what a touch did. XPErr is set when the streak moved
// but the continuation bonus could not be awarded.
type StreakResult struct {
	Outcome    StreakOutcome `json:"outcome"`
	StreakDays int           `json:"streak_days"`
	BonusXP    int64         `json:"bonus_xp"`
	XP         *XPResult     `json:"xp,omitempty"`
	XPErr      error         `json:"-"`
}

type StreakService struct {
	Store       store.Store
	Progression *ProgressionService
	BonusXP     int64
}

func NewStreakService(st store.Store, progression *ProgressionService, bonusXP int64) *StreakService {
	return &StreakService{Store: st, Progression: progression, BonusXP: bonusXP}
}

// TouchStreak is called once per app-foreground event. The transition runs
// inside the atomic update so two devices touching at once count one day.
func (s *StreakService) TouchStreak(ctx context.Context, externalUserID string, now time.Time) (*StreakResult, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}

	var outcome StreakOutcome
	prog, err := s.Store.AtomicUpdate(ctx, externalUserID, func(p *models.UserProgress) error {
		days, o := NextStreak(p.StreakDays, p.LastSeenAt, now)
		outcome = o
		if o == StreakUnchanged || o == StreakSkewed {
			return store.ErrSkipWrite
		}
		seen := now
		p.StreakDays = days
		p.LastSeenAt = &seen
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch streak for %s: %w", externalUserID, err)
	}

	res := &StreakResult{Outcome: outcome, StreakDays: prog.StreakDays}
	switch outcome {
	case StreakSkewed:
		log.Printf("⚠️ [STREAK] %s touched at %s before last seen %s; ignored",
			externalUserID, now.Format(time.RFC3339), prog.LastSeenAt.Format(time.RFC3339))
	case StreakUnchanged:
		// already counted today
	default:
		log.Printf("🔥 [STREAK] %s %s → %d day(s)", externalUserID, outcome, prog.StreakDays)
	}

	if outcome != StreakContinued || s.BonusXP <= 0 {
		return res, nil
	}

	res.BonusXP = s.BonusXP
	xp, err := s.Progression.AwardXP(ctx, externalUserID, s.BonusXP, "streak_continued")
	if err != nil {
		res.XPErr = err
		return res, fmt.Errorf("streak bonus for %s: %w", externalUserID, err)
	}
	res.XP = xp
	return res, nil
}
