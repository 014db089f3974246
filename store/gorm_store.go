package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"progression-system/models"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on a relational database through GORM.
type GormStore struct {
	DB   *gorm.DB
	opts Options
}

// NewGormStore wraps an open connection.
func NewGormStore(db *gorm.DB, opts Options) *GormStore {
	return &GormStore{DB: db, opts: opts.withDefaults()}
}

// OpenPostgres connects to Postgres with the SQL log level chosen by logSQL.
func OpenPostgres(dsn string, logSQL bool) (*gorm.DB, error) {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the progression tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.UserProgress{},
		&models.VideoProgress{},
		&models.BadgeUnlock{},
	)
}

// EnsureProgress creates the zeroed record if missing and reports whether this call created it.
func (s *GormStore) EnsureProgress(ctx context.Context, userID string) (*models.UserProgress, bool, error) {
	prog := s.opts.newRecord(userID)
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoNothing: true,
		}).
		Create(&prog)
	if res.Error != nil {
		return nil, false, fmt.Errorf("creating progress record for %s: %w", userID, res.Error)
	}
	created := res.RowsAffected == 1
	if created {
		return &prog, true, nil
	}
	existing, err := s.GetProgress(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *GormStore) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", userID).First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("progress for %s: %w", userID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

func (s *GormStore) ListProgress(ctx context.Context, afterID string, limit int) ([]models.UserProgress, error) {
	var out []models.UserProgress
	q := s.DB.WithContext(ctx).Order("id ASC").Limit(limit)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AtomicUpdate reads the row, applies fn and writes back only if the version
// it read is still current. A lost race retries with exponential backoff.
func (s *GormStore) AtomicUpdate(ctx context.Context, userID string, fn UpdateFunc) (*models.UserProgress, error) {
	if _, _, err := s.EnsureProgress(ctx, userID); err != nil {
		return nil, err
	}

	backoff := s.opts.Backoff
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		var out models.UserProgress
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var prog models.UserProgress
			if err := tx.Where("external_user_id = ?", userID).First(&prog).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("progress for %s: %w", userID, ErrRecordNotFound)
				}
				return err
			}

			readVersion := prog.Version
			if err := fn(&prog); err != nil {
				return err
			}

			updates := transactionalColumns(&prog)
			updates["version"] = readVersion + 1
			updates["updated_at"] = time.Now()

			res := tx.Model(&models.UserProgress{}).
				Where("id = ? AND version = ?", prog.ID, readVersion).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errConflict
			}
			prog.Version = readVersion + 1
			out = prog
			return nil
		})

		switch {
		case err == nil:
			return &out, nil
		case errors.Is(err, ErrSkipWrite):
			return s.GetProgress(ctx, userID)
		case !errors.Is(err, errConflict):
			return nil, err
		}

		log.Printf("[STORE] ⚠️ write conflict on progress of %s (attempt %d/%d)", userID, attempt, s.opts.MaxRetries)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: progress of %s after %d attempts", ErrTransactionAborted, userID, s.opts.MaxRetries)
}

func (s *GormStore) SetMerge(ctx context.Context, userID string, fields map[string]any) error {
	if err := checkMergeable(fields); err != nil {
		return err
	}
	if _, _, err := s.EnsureProgress(ctx, userID); err != nil {
		return err
	}
	return s.UpdateFields(ctx, userID, fields)
}

func (s *GormStore) UpdateFields(ctx context.Context, userID string, fields map[string]any) error {
	if err := checkMergeable(fields); err != nil {
		return err
	}
	updates := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")
	updates["updated_at"] = time.Now()

	res := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("external_user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("progress for %s: %w", userID, ErrRecordNotFound)
	}
	return nil
}

// IncrementField is a server-side col = col + delta; safe without a transaction.
func (s *GormStore) IncrementField(ctx context.Context, userID, field string, delta float64) error {
	isInt, ok := counterFields[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if _, _, err := s.EnsureProgress(ctx, userID); err != nil {
		return err
	}

	var expr clause.Expr
	if isInt {
		expr = gorm.Expr(field+" + ?", int64(delta))
	} else {
		expr = gorm.Expr(field+" + ?", delta)
	}

	res := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("external_user_id = ?", userID).
		Updates(map[string]any{
			field:        expr,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("progress for %s: %w", userID, ErrRecordNotFound)
	}
	return nil
}

func (s *GormStore) ListPendingBadgePasses(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("badge_pass_pending = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("external_user_id", &ids).Error
	return ids, err
}

// AppendUnique relies on the (user, badge) unique index: a conflicting insert
// affects no rows and is left out of the result.
func (s *GormStore) AppendUnique(ctx context.Context, userID string, unlocks []models.BadgeUnlock) ([]models.BadgeUnlock, error) {
	var added []models.BadgeUnlock
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		added = added[:0]
		for _, u := range unlocks {
			u.ExternalUserID = userID
			if u.ID == "" {
				u.ID = uuid.NewString()
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "external_user_id"}, {Name: "badge_id"}},
				DoNothing: true,
			}).Create(&u)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				added = append(added, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("appending badges for %s: %w", userID, err)
	}
	return added, nil
}

func (s *GormStore) ListBadges(ctx context.Context, userID string) ([]models.BadgeUnlock, error) {
	var out []models.BadgeUnlock
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", userID).
		Order("unlocked_at ASC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) GetVideo(ctx context.Context, userID, videoID string) (*models.VideoProgress, error) {
	var v models.VideoProgress
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ? AND video_id = ?", userID, videoID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("video %s for %s: %w", videoID, userID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertVideo merges the position fields. started_at is only written on
// insert and the completion fields are owned by MarkVideoComplete.
func (s *GormStore) UpsertVideo(ctx context.Context, v *models.VideoProgress) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	insert := *v
	insert.Complete = false
	insert.CompletedAt = nil
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}, {Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "title_slug", "progression", "seconds_watched", "updated_at",
		}),
	}).Create(&insert).Error
}

func (s *GormStore) MarkVideoComplete(ctx context.Context, userID, videoID string, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.VideoProgress{}).
		Where("external_user_id = ? AND video_id = ? AND complete = ?", userID, videoID, false).
		Updates(map[string]any{
			"complete":     true,
			"completed_at": at,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListVideos(ctx context.Context, userID string) ([]models.VideoProgress, error) {
	var out []models.VideoProgress
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", userID).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}
