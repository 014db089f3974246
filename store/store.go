// Package store abstracts the progression document store: an atomic
// read-modify-write on the user record plus point reads, merges,
// commutative increments and duplicate-safe badge appends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progression-system/models"
)

var (
	// ErrRecordNotFound is returned by point reads and updates on a missing record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrTransactionAborted means an atomic update kept conflicting until retries ran out.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrSkipWrite can be returned by an AtomicUpdate callback to commit nothing.
	ErrSkipWrite = errors.New("skip write")
	// ErrUnknownField rejects field names outside the writable whitelist.
	ErrUnknownField = errors.New("unknown field")

	errConflict = errors.New("write conflict")
)

// DefaultMaxRetries bounds AtomicUpdate attempts when no option is given.
const DefaultMaxRetries = 5

// UpdateFunc mutates a snapshot of the user's record. It may run more than
// once when the commit conflicts, so it must only depend on the snapshot
// and must not call back into the store.
type UpdateFunc func(p *models.UserProgress) error

// Store is the contract every progression component consumes.
type Store interface {
	// AtomicUpdate runs fn on a consistent snapshot and commits the leveling
	// and streak fields atomically, retrying on write conflicts.
	AtomicUpdate(ctx context.Context, userID string, fn UpdateFunc) (*models.UserProgress, error)

	EnsureProgress(ctx context.Context, userID string) (*models.UserProgress, bool, error)
	GetProgress(ctx context.Context, userID string) (*models.UserProgress, error)
	ListProgress(ctx context.Context, afterID string, limit int) ([]models.UserProgress, error)
	SetMerge(ctx context.Context, userID string, fields map[string]any) error
	UpdateFields(ctx context.Context, userID string, fields map[string]any) error
	IncrementField(ctx context.Context, userID, field string, delta float64) error
	ListPendingBadgePasses(ctx context.Context, limit int) ([]string, error)

	// AppendUnique inserts unlocks keyed by badge id and returns only those
	// this call actually added.
	AppendUnique(ctx context.Context, userID string, unlocks []models.BadgeUnlock) ([]models.BadgeUnlock, error)
	ListBadges(ctx context.Context, userID string) ([]models.BadgeUnlock, error)

	GetVideo(ctx context.Context, userID, videoID string) (*models.VideoProgress, error)
	UpsertVideo(ctx context.Context, v *models.VideoProgress) error
	// MarkVideoComplete flips complete from false to true and reports whether this call did it.
	MarkVideoComplete(ctx context.Context, userID, videoID string, at time.Time) (bool, error)
	ListVideos(ctx context.Context, userID string) ([]models.VideoProgress, error)
}

// Options tune a store implementation.
type Options struct {
	MaxRetries int
	// Backoff is the base delay between conflicting attempts; doubled each retry.
	Backoff time.Duration
	// BaseLevelXP is the level 1 → 2 threshold written into new records.
	BaseLevelXP int64
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Backoff <= 0 {
		o.Backoff = 10 * time.Millisecond
	}
	if o.BaseLevelXP <= 0 {
		o.BaseLevelXP = models.DefaultNextLevelXP
	}
	return o
}

func (o Options) newRecord(userID string) models.UserProgress {
	p := models.NewUserProgress(userID)
	p.NextLevelXP = o.BaseLevelXP
	return p
}

// mergeableFields are the columns SetMerge/UpdateFields may touch.
var mergeableFields = map[string]bool{
	"streak_days":        true,
	"last_seen_at":       true,
	"badge_pass_pending": true,
}

// counterFields are the columns IncrementField may touch; true means integer.
var counterFields = map[string]bool{
	"videos_watched":  true,
	"minutes_watched": false,
}

func checkMergeable(fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty field map", ErrUnknownField)
	}
	for k := range fields {
		if !mergeableFields[k] {
			return fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
	}
	return nil
}

// transactionalColumns is what AtomicUpdate writes back. Counters are left
// alone so concurrent increments are never overwritten by a stale snapshot.
func transactionalColumns(p *models.UserProgress) map[string]any {
	return map[string]any{
		"current_xp":       p.CurrentXP,
		"level":            p.Level,
		"next_level_xp":    p.NextLevelXP,
		"streak_days":      p.StreakDays,
		"last_seen_at":     p.LastSeenAt,
		"last_level_up_at": p.LastLevelUpAt,
	}
}

func copyTransactional(dst, src *models.UserProgress) {
	dst.CurrentXP = src.CurrentXP
	dst.Level = src.Level
	dst.NextLevelXP = src.NextLevelXP
	dst.StreakDays = src.StreakDays
	dst.LastSeenAt = src.LastSeenAt
	dst.LastLevelUpAt = src.LastLevelUpAt
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
