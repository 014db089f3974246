package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"progression-system/models"
	"progression-system/store"
)

// NewlyEarned returns, in table order, the rules whose predicate holds for
// stats and whose id is not in owned. It touches no store.
func NewlyEarned(rules []models.BadgeRule, stats models.BadgeStats, owned map[string]bool) []models.BadgeRule {
	var earned []models.BadgeRule
	for _, rule := range rules {
		if owned[rule.ID] {
			continue
		}
		if rule.Predicate != nil && rule.Predicate(stats) {
			earned = append(earned, rule)
		}
	}
	return earned
}

// BadgeResult lists the badges this call persisted. A badge appears in at
// most one BadgeResult per user, ever.
type BadgeResult struct {
	Unlocked []models.BadgeUnlock `json:"unlocked"`
	BonusXP  int64                `json:"bonus_xp"`
	XP       *XPResult            `json:"xp,omitempty"`
	XPErr    error                `json:"-"`
}

type BadgeService struct {
	Store       store.Store
	Progression *ProgressionService
	Rules       []models.BadgeRule
	XPPerBadge  int64
	now         func() time.Time
}

func NewBadgeService(st store.Store, progression *ProgressionService, rules []models.BadgeRule, xpPerBadge int64) *BadgeService {
	return &BadgeService{
		Store:       st,
		Progression: progression,
		Rules:       rules,
		XPPerBadge:  xpPerBadge,
		now:         time.Now,
	}
}

// EvaluateAndUnlock persists every newly satisfied badge with a set-union
// append and awards the bonus for all of them in a single AwardXP call.
// Only badges the append actually inserted are returned and paid for, so a
// concurrent evaluator racing on the same badge cannot double-report it.
func (s *BadgeService) EvaluateAndUnlock(ctx context.Context, externalUserID string, stats models.BadgeStats) (*BadgeResult, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}

	existing, err := s.Store.ListBadges(ctx, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("list badges for %s: %w", externalUserID, err)
	}
	owned := make(map[string]bool, len(existing))
	for _, b := range existing {
		owned[b.BadgeID] = true
	}

	earned := NewlyEarned(s.Rules, stats, owned)
	res := &BadgeResult{Unlocked: []models.BadgeUnlock{}}
	if len(earned) == 0 {
		return res, nil
	}

	now := s.now()
	unlocks := make([]models.BadgeUnlock, 0, len(earned))
	for _, rule := range earned {
		unlocks = append(unlocks, models.BadgeUnlock{
			ExternalUserID: externalUserID,
			BadgeID:        rule.ID,
			BadgeName:      rule.Name,
			BadgeIcon:      rule.Icon,
			UnlockedAt:     now,
		})
	}

	added, err := s.Store.AppendUnique(ctx, externalUserID, unlocks)
	if err != nil {
		return nil, fmt.Errorf("persist badges for %s: %w", externalUserID, err)
	}
	res.Unlocked = added
	for _, b := range added {
		log.Printf("🎖️ [BADGE] Badge awarded: %s → %s", b.BadgeName, externalUserID)
	}

	if len(added) == 0 || s.XPPerBadge <= 0 {
		return res, nil
	}

	res.BonusXP = s.XPPerBadge * int64(len(added))
	xp, err := s.Progression.AwardXP(ctx, externalUserID, res.BonusXP, fmt.Sprintf("badges_unlocked_%d", len(added)))
	if err != nil {
		res.XPErr = err
		return res, fmt.Errorf("badge bonus for %s: %w", externalUserID, err)
	}
	res.XP = xp
	return res, nil
}

// RefreshAndEvaluate re-reads the user's statistics and evaluates them.
func (s *BadgeService) RefreshAndEvaluate(ctx context.Context, externalUserID string) (*BadgeResult, error) {
	prog, err := s.Progression.GetProgress(ctx, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("refresh stats for %s: %w", externalUserID, err)
	}
	return s.EvaluateAndUnlock(ctx, externalUserID, prog.Stats())
}

// RepairPendingPasses re-runs the badge pass for users flagged after a
// failed pass and clears the flag on success. It returns how many it repaired.
func (s *BadgeService) RepairPendingPasses(ctx context.Context, limit int) (int, error) {
	ids, err := s.Store.ListPendingBadgePasses(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending badge passes: %w", err)
	}

	repaired := 0
	for _, id := range ids {
		if _, err := s.RefreshAndEvaluate(ctx, id); err != nil {
			log.Printf("⚠️ [BADGE] Repair pass for %s failed again: %v", id, err)
			continue
		}
		if err := s.Store.UpdateFields(ctx, id, map[string]any{"badge_pass_pending": false}); err != nil {
			log.Printf("⚠️ [BADGE] Could not clear pending flag for %s: %v", id, err)
			continue
		}
		repaired++
	}
	if repaired > 0 {
		log.Printf("🛠️ [BADGE] Repaired %d pending badge pass(es)", repaired)
	}
	return repaired, nil
}
