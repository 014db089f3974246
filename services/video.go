package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"progression-system/models"
	"progression-system/store"

	"github.com/gosimple/slug"
)

// DefaultCompletionThreshold is the percentage at which a video counts as watched.
const DefaultCompletionThreshold = 95.0

// VideoProgressInput is one progress tick from the player.
type VideoProgressInput struct {
	VideoID        string  `json:"video_id"`
	Title          string  `json:"title"`
	Percent        float64 `json:"percent"`
	SecondsWatched float64 `json:"seconds_watched"`
}

func (in VideoProgressInput) validate() error {
	if strings.TrimSpace(in.VideoID) == "" {
		return validationErr("video id is required")
	}
	if math.IsNaN(in.Percent) || in.Percent < 0 || in.Percent > 100 {
		return validationErr("percent must be within [0,100], got %v", in.Percent)
	}
	if math.IsNaN(in.SecondsWatched) || math.IsInf(in.SecondsWatched, 0) || in.SecondsWatched < 0 {
		return validationErr("seconds watched must be >= 0, got %v", in.SecondsWatched)
	}
	return nil
}

// CompletionResult records each step of a progress tick so a partial failure
// is visible to the caller instead of being swallowed.
type CompletionResult struct {
	Video           *models.VideoProgress `json:"video"`
	FirstCompletion bool                  `json:"first_completion"`

	StatsIncremented bool  `json:"stats_incremented"`
	StatsErr         error `json:"-"`

	XP    *XPResult `json:"xp,omitempty"`
	XPErr error     `json:"-"`

	Badges   *BadgeResult `json:"badges,omitempty"`
	BadgeErr error        `json:"-"`

	// BadgePassPending is true when the failed badge pass was queued for repair.
	BadgePassPending bool `json:"badge_pass_pending"`

	WeeklyGoalChecked bool  `json:"weekly_goal_checked"`
	WeeklyGoalErr     error `json:"-"`
}

// Err joins the failed side-effect steps, or returns nil.
func (r *CompletionResult) Err() error {
	return errors.Join(r.StatsErr, r.XPErr, r.BadgeErr, r.WeeklyGoalErr)
}

// FailedSteps names the steps that did not succeed.
func (r *CompletionResult) FailedSteps() []string {
	var steps []string
	if r.StatsErr != nil {
		steps = append(steps, "stats")
	}
	if r.XPErr != nil {
		steps = append(steps, "xp")
	}
	if r.BadgeErr != nil {
		steps = append(steps, "badges")
	}
	if r.WeeklyGoalErr != nil {
		steps = append(steps, "weekly_goal")
	}
	return steps
}

type VideoService struct {
	Store       store.Store
	Progression *ProgressionService
	Badges      *BadgeService
	WeeklyGoal  WeeklyGoalHook
	Threshold   float64
	CompleteXP  int64
	now         func() time.Time
}

func NewVideoService(st store.Store, progression *ProgressionService, badges *BadgeService, weekly WeeklyGoalHook, threshold float64, completeXP int64) *VideoService {
	if weekly == nil {
		weekly = UnimplementedHooks{}
	}
	if threshold <= 0 {
		threshold = DefaultCompletionThreshold
	}
	return &VideoService{
		Store:       st,
		Progression: progression,
		Badges:      badges,
		WeeklyGoal:  weekly,
		Threshold:   threshold,
		CompleteXP:  completeXP,
		now:         time.Now,
	}
}

// RecordVideoProgress upserts the video's position and, on the first
// crossing of the completion threshold, runs the completion side effects
// exactly once: counters, XP, badge pass and the weekly goal hook.
// The returned error is the progress write failure, or the joined step
// failures; the result is non-nil whenever the progress write succeeded.
func (s *VideoService) RecordVideoProgress(ctx context.Context, externalUserID string, in VideoProgressInput) (*CompletionResult, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	prior, err := s.Store.GetVideo(ctx, externalUserID, in.VideoID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("read video %s: %w", in.VideoID, err)
	}

	now := s.now()
	rec := &models.VideoProgress{
		ExternalUserID: externalUserID,
		VideoID:        in.VideoID,
		Title:          in.Title,
		Progression:    in.Percent,
		SecondsWatched: in.SecondsWatched,
		StartedAt:      &now,
	}
	if prior != nil {
		rec.ID = prior.ID
		rec.StartedAt = prior.StartedAt
		rec.Complete = prior.Complete
		rec.CompletedAt = prior.CompletedAt
		if rec.Title == "" {
			rec.Title = prior.Title
		}
	}
	if rec.Title != "" {
		rec.TitleSlug = slug.Make(rec.Title)
	}

	if err := s.Store.UpsertVideo(ctx, rec); err != nil {
		return nil, fmt.Errorf("save video %s: %w", in.VideoID, err)
	}

	res := &CompletionResult{Video: rec}
	if in.Percent < s.Threshold {
		return res, nil
	}

	// The conditional flip is the exactly-once guard: only one caller can move
	// complete from false to true, however many ticks arrive concurrently.
	first, err := s.Store.MarkVideoComplete(ctx, externalUserID, in.VideoID, now)
	if err != nil {
		return res, fmt.Errorf("mark video %s complete: %w", in.VideoID, err)
	}
	if !first {
		return res, nil
	}

	rec.Complete = true
	rec.CompletedAt = &now
	res.FirstCompletion = true
	log.Printf("✅ [VIDEO] %s completed %q (%s)", externalUserID, rec.Title, in.VideoID)

	s.runCompletionEffects(ctx, externalUserID, in.SecondsWatched, res)
	return res, res.Err()
}

func (s *VideoService) runCompletionEffects(ctx context.Context, userID string, seconds float64, res *CompletionResult) {
	if err := s.Store.IncrementField(ctx, userID, "videos_watched", 1); err != nil {
		res.StatsErr = fmt.Errorf("increment videos watched: %w", err)
	} else if err := s.Store.IncrementField(ctx, userID, "minutes_watched", seconds/60); err != nil {
		res.StatsErr = fmt.Errorf("increment minutes watched: %w", err)
	} else {
		res.StatsIncremented = true
	}
	if res.StatsErr != nil {
		log.Printf("❌ [VIDEO] Stats increment for %s failed: %v", userID, res.StatsErr)
	}

	if s.CompleteXP > 0 {
		xp, err := s.Progression.AwardXP(ctx, userID, s.CompleteXP, "video_completed")
		if err != nil {
			res.XPErr = err
		} else {
			res.XP = xp
		}
	}

	badges, err := s.Badges.RefreshAndEvaluate(ctx, userID)
	res.Badges = badges
	switch {
	case err != nil && badges != nil && badges.XPErr != nil:
		// badges are persisted; a repair pass would see them owned and pay nothing
		res.BadgeErr = err
		log.Printf("❌ [VIDEO] Badge bonus of %d XP for %s unpaid: %v", badges.BonusXP, userID, err)
	case err != nil:
		res.BadgeErr = err
		log.Printf("⚠️ [VIDEO] Badge pass for %s failed, queued for repair: %v", userID, err)
		if ferr := s.Store.UpdateFields(ctx, userID, map[string]any{"badge_pass_pending": true}); ferr != nil {
			log.Printf("❌ [VIDEO] Could not queue badge repair for %s: %v", userID, ferr)
		} else {
			res.BadgePassPending = true
		}
	}

	if err := s.WeeklyGoal.CheckWeeklyGoal(ctx, userID); err != nil {
		if !errors.Is(err, ErrNotImplemented) {
			res.WeeklyGoalErr = err
		}
	} else {
		res.WeeklyGoalChecked = true
	}
}

// ListVideos returns the user's per-video progress.
func (s *VideoService) ListVideos(ctx context.Context, externalUserID string) ([]models.VideoProgress, error) {
	if err := requireUser(externalUserID); err != nil {
		return nil, err
	}
	return s.Store.ListVideos(ctx, externalUserID)
}
