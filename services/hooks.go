package services

import (
	"context"
)

// WeeklyGoalHook runs after a first-time video completion.
type WeeklyGoalHook interface {
	CheckWeeklyGoal(ctx context.Context, externalUserID string) error
}

// PathRatingHook keeps a learning path's average rating current.
type PathRatingHook interface {
	UpdatePathRatingAverage(ctx context.Context, pathID string, rating int) error
}

// UnimplementedHooks satisfies both hooks with ErrNotImplemented.
type UnimplementedHooks struct{}

func (UnimplementedHooks) CheckWeeklyGoal(ctx context.Context, externalUserID string) error {
	return ErrNotImplemented
}

func (UnimplementedHooks) UpdatePathRatingAverage(ctx context.Context, pathID string, rating int) error {
	if err := ValidateRating(rating); err != nil {
		return err
	}
	return ErrNotImplemented
}

// ValidateRating accepts ratings from 1 to 5.
func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return validationErr("rating must be between 1 and 5, got %d", rating)
	}
	return nil
}
