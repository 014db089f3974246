package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"progression-system/models"
	"progression-system/store"
)

// XPRewards define fixed award amounts (tunable via config/env)
type XPRewards struct {
	VideoComplete int64
	StreakDay     int64
	PerBadge      int64
}

var DefaultXPRewards = XPRewards{
	VideoComplete: 50,
	StreakDay:     10,
	PerBadge:      25,
}

// Curve is the leveling curve: the first level-up costs BaseXP and every
// following threshold is the previous one times Growth, floored.
type Curve struct {
	BaseXP int64
	Growth float64
}

var DefaultCurve = Curve{BaseXP: models.DefaultNextLevelXP, Growth: 1.5}

// Validate rejects curves that would stop the thresholds from growing.
func (c Curve) Validate() error {
	if c.BaseXP <= 0 {
		return validationErr("curve base XP must be positive, got %d", c.BaseXP)
	}
	if c.Growth < 1 || math.IsNaN(c.Growth) || math.IsInf(c.Growth, 0) {
		return validationErr("curve growth must be >= 1, got %v", c.Growth)
	}
	return nil
}

// Next returns the threshold that follows threshold. It saturates at
// math.MaxInt64 and never falls below threshold.
func (c Curve) Next(threshold int64) int64 {
	product := math.Floor(float64(threshold) * c.Growth)
	if product >= math.MaxInt64 {
		return math.MaxInt64
	}
	next := int64(product)
	if next < threshold {
		next = threshold
	}
	if next < 1 {
		next = 1
	}
	return next
}

// Apply adds amount to the (currentXP, level, nextLevelXP) triple and returns
// the new triple plus the number of levels gained. Out-of-range inputs are
// normalised to the documented defaults first, and XP past math.MaxInt64
// is dropped rather than wrapped.
func (c Curve) Apply(currentXP int64, level int, nextLevelXP, amount int64) (int64, int, int64, int) {
	if level < 1 {
		level = models.DefaultLevel
	}
	if nextLevelXP <= 0 {
		nextLevelXP = c.BaseXP
	}
	if currentXP < 0 {
		currentXP = 0
	}
	if amount < 0 {
		amount = 0
	}

	xp := int64(math.MaxInt64)
	if amount <= math.MaxInt64-currentXP {
		xp = currentXP + amount
	}
	gained := 0
	for xp >= nextLevelXP {
		next := c.Next(nextLevelXP)
		if next == nextLevelXP {
			// flat curve from here on: take every remaining level at once
			levels := xp / nextLevelXP
			xp -= levels * nextLevelXP
			level += int(levels)
			gained += int(levels)
			break
		}
		xp -= nextLevelXP
		level++
		gained++
		nextLevelXP = next
	}
	return xp, level, nextLevelXP, gained
}

// Fits reports whether amount can be added to currentXP without overflow.
func (c Curve) Fits(currentXP, amount int64) bool {
	return currentXP < 0 || amount <= math.MaxInt64-currentXP
}

// XPResult is the delta produced by one AwardXP call.
type XPResult struct {
	Progress     *models.UserProgress `json:"progress"`
	Amount       int64                `json:"amount"`
	LevelsGained int                  `json:"levels_gained"`
}

type ProgressionService struct {
	Store store.Store
	Curve Curve
	now   func() time.Time
}

func NewProgressionService(st store.Store, curve Curve) *ProgressionService {
	return &ProgressionService{Store: st, Curve: curve, now: time.Now}
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent)
func (s *ProgressionService) EnsureProgressRecord(ctx context.Context, externalUserID string) (*models.UserProgress, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}
	prog, created, err := s.Store.EnsureProgress(ctx, externalUserID)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("🆕 [XP] Progress record initialised for %s", externalUserID)
	}
	return prog, nil
}

// GetProgress reads the record; an account that was never initialised
// reads as the zeroed defaults without anything being written.
func (s *ProgressionService) GetProgress(ctx context.Context, externalUserID string) (*models.UserProgress, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}
	prog, err := s.Store.GetProgress(ctx, externalUserID)
	if errors.Is(err, store.ErrRecordNotFound) {
		def := models.NewUserProgress(externalUserID)
		def.ID = ""
		def.NextLevelXP = s.Curve.BaseXP
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// AwardXP atomically updates XP and level. ErrTransactionAborted is returned
// as-is so the caller can retry or queue the award.
func (s *ProgressionService) AwardXP(ctx context.Context, externalUserID string, amount int64, reason string) (*XPResult, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, validationErr("XP amount must be positive, got %d", amount)
	}

	var gained int
	prog, err := s.Store.AtomicUpdate(ctx, externalUserID, func(p *models.UserProgress) error {
		if !s.Curve.Fits(p.CurrentXP, amount) {
			return validationErr("XP amount %d overflows current XP %d", amount, p.CurrentXP)
		}
		var levels int
		p.CurrentXP, p.Level, p.NextLevelXP, levels = s.Curve.Apply(p.CurrentXP, p.Level, p.NextLevelXP, amount)
		if levels > 0 {
			now := s.now()
			p.LastLevelUpAt = &now
		}
		gained = levels
		return nil
	})
	if err != nil {
		log.Printf("❌ [XP] Award of %d to %s failed (reason: %s): %v", amount, externalUserID, reason, err)
		return nil, fmt.Errorf("award %d XP to %s: %w", amount, externalUserID, err)
	}

	log.Printf("🎮 [XP] Awarded: %s +%d → XP=%d/%d, Lvl=%d (reason: %s)",
		externalUserID, amount, prog.CurrentXP, prog.NextLevelXP, prog.Level, reason)
	if gained > 0 {
		log.Printf("⬆️ [XP] %s gained %d level(s), now level %d", externalUserID, gained, prog.Level)
	}

	return &XPResult{Progress: prog, Amount: amount, LevelsGained: gained}, nil
}
