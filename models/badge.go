package models

import (
	"time"
)

// BadgeStats is the plain statistics view badge predicates are evaluated on.
// Every field only ever grows, so a predicate that held once keeps holding.
type BadgeStats struct {
	VideosWatched  int64   `json:"videos_watched"`
	MinutesWatched float64 `json:"minutes_watched"`
	Level          int     `json:"level"`
	StreakDays     int     `json:"streak_days"`
}

// BadgeRule: static rule, display copy is denormalised into BadgeUnlock at unlock time.
type BadgeRule struct {
	ID          string
	Name        string
	Icon        string
	Description string
	Rarity      string // common, rare, epic, legendary
	Predicate   func(BadgeStats) bool
}

// BadgeUnlock: awarded instance, unique per (user, badge)
type BadgeUnlock struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string    `gorm:"uniqueIndex:idx_user_badge;not null" json:"external_user_id"`
	BadgeID        string    `gorm:"uniqueIndex:idx_user_badge;not null" json:"badge_id"`
	BadgeName      string    `gorm:"not null" json:"badge_name"`
	BadgeIcon      string    `json:"badge_icon"`
	UnlockedAt     time.Time `gorm:"not null" json:"unlocked_at"`
}

// BadgeRules is the ordered badge table. IDs are persisted; never rename one.
var BadgeRules = []BadgeRule{
	{
		ID:          "first_video",
		Name:        "First Steps",
		Icon:        "🎬",
		Description: "Finished your first video",
		Rarity:      "common",
		Predicate:   func(s BadgeStats) bool { return s.VideosWatched >= 1 },
	},
	{
		ID:          "videos_10",
		Name:        "Curious Mind",
		Icon:        "📚",
		Description: "Finished 10 videos",
		Rarity:      "common",
		Predicate:   func(s BadgeStats) bool { return s.VideosWatched >= 10 },
	},
	{
		ID:          "videos_50",
		Name:        "Knowledge Seeker",
		Icon:        "🧠",
		Description: "Finished 50 videos",
		Rarity:      "rare",
		Predicate:   func(s BadgeStats) bool { return s.VideosWatched >= 50 },
	},
	{
		ID:          "minutes_60",
		Name:        "First Hour",
		Icon:        "⏱️",
		Description: "Watched an hour of lessons",
		Rarity:      "common",
		Predicate:   func(s BadgeStats) bool { return s.MinutesWatched >= 60 },
	},
	{
		ID:          "minutes_600",
		Name:        "Marathoner",
		Icon:        "🏃",
		Description: "Watched ten hours of lessons",
		Rarity:      "epic",
		Predicate:   func(s BadgeStats) bool { return s.MinutesWatched >= 600 },
	},
	{
		ID:          "level_5",
		Name:        "Rising Star",
		Icon:        "⭐",
		Description: "Reached level 5",
		Rarity:      "rare",
		Predicate:   func(s BadgeStats) bool { return s.Level >= 5 },
	},
	{
		ID:          "level_10",
		Name:        "Expert",
		Icon:        "🏆",
		Description: "Reached level 10",
		Rarity:      "epic",
		Predicate:   func(s BadgeStats) bool { return s.Level >= 10 },
	},
	{
		ID:          "streak_3",
		Name:        "On a Roll",
		Icon:        "🔥",
		Description: "Three days in a row",
		Rarity:      "common",
		Predicate:   func(s BadgeStats) bool { return s.StreakDays >= 3 },
	},
	{
		ID:          "streak_7",
		Name:        "Week Warrior",
		Icon:        "📅",
		Description: "Seven days in a row",
		Rarity:      "rare",
		Predicate:   func(s BadgeStats) bool { return s.StreakDays >= 7 },
	},
	{
		ID:          "streak_30",
		Name:        "Unstoppable",
		Icon:        "💎",
		Description: "Thirty days in a row",
		Rarity:      "legendary",
		Predicate:   func(s BadgeStats) bool { return s.StreakDays >= 30 },
	},
}
