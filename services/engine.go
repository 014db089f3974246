package services

import (
	"progression-system/models"
	"progression-system/store"
)

// EngineConfig carries the tunable constants of the progression rules.
type EngineConfig struct {
	Curve               Curve
	Rewards             XPRewards
	CompletionThreshold float64
	Rules               []models.BadgeRule
	WeeklyGoal          WeeklyGoalHook
}

// DefaultEngineConfig is the production rule set.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Curve:               DefaultCurve,
		Rewards:             DefaultXPRewards,
		CompletionThreshold: DefaultCompletionThreshold,
		Rules:               models.BadgeRules,
	}
}

// Engine wires the progression components onto one store.
type Engine struct {
	Store       store.Store
	Progression *ProgressionService
	Streaks     *StreakService
	Badges      *BadgeService
	Videos      *VideoService
}

func NewEngine(st store.Store, cfg EngineConfig) (*Engine, error) {
	if err := cfg.Curve.Validate(); err != nil {
		return nil, err
	}
	if cfg.Rules == nil {
		cfg.Rules = models.BadgeRules
	}
	progression := NewProgressionService(st, cfg.Curve)
	badges := NewBadgeService(st, progression, cfg.Rules, cfg.Rewards.PerBadge)
	return &Engine{
		Store:       st,
		Progression: progression,
		Streaks:     NewStreakService(st, progression, cfg.Rewards.StreakDay),
		Badges:      badges,
		Videos:      NewVideoService(st, progression, badges, cfg.WeeklyGoal, cfg.CompletionThreshold, cfg.Rewards.VideoComplete),
	}, nil
}
