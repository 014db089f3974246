package models

import "time"

// VideoProgress is one user's watch state for one video.
// Complete never flips back to false once set.
type VideoProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex:idx_user_video;not null" json:"external_user_id"`
	VideoID        string `gorm:"uniqueIndex:idx_user_video;not null" json:"video_id"`

	Title     string `json:"title"`
	TitleSlug string `json:"title_slug" gorm:"index"`

	Progression    float64 `json:"progression" gorm:"not null;default:0"`     // percent, 0–100
	SecondsWatched float64 `json:"seconds_watched" gorm:"not null;default:0"` // latest reported position
	Complete       bool    `json:"complete" gorm:"not null;default:false"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName keeps the table singular like the rest of the progress tables.
func (VideoProgress) TableName() string { return "video_progress" }
