package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Defaults for a progress record that was never initialised.
const (
	DefaultLevel       = 1
	DefaultNextLevelXP = 100
)

// UserProgress is the per-user progression document. XP and level fields are
// only written through the store's atomic update; counters go through increments.
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // identity provider's user id

	// Leveling
	CurrentXP   int64 `json:"current_xp" gorm:"not null;default:0"`
	Level       int   `json:"level" gorm:"not null;default:1"`
	NextLevelXP int64 `json:"next_level_xp" gorm:"not null;default:100"`

	// Daily streak
	StreakDays int        `json:"streak_days" gorm:"not null;default:0"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	// Watch statistics
	VideosWatched  int64   `json:"videos_watched" gorm:"not null;default:0"`
	MinutesWatched float64 `json:"minutes_watched" gorm:"not null;default:0"`

	// Set when a badge pass failed after the counters moved; cleared by the repair job.
	BadgePassPending bool `json:"badge_pass_pending" gorm:"not null;default:false;index"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	// Optimistic concurrency token, bumped by every write to the row.
	Version int64 `json:"-" gorm:"not null;default:0"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// NewUserProgress returns a zeroed record for a freshly initialised account.
func NewUserProgress(externalUserID string) UserProgress {
	return UserProgress{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Level:          DefaultLevel,
		NextLevelXP:    DefaultNextLevelXP,
	}
}

// Stats projects the record onto the values badge rules look at.
func (p *UserProgress) Stats() BadgeStats {
	return BadgeStats{
		VideosWatched:  p.VideosWatched,
		MinutesWatched: p.MinutesWatched,
		Level:          p.Level,
		StreakDays:     p.StreakDays,
	}
}
