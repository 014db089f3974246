package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"progression-system/models"
	"progression-system/store"
)

// ObjectUploader stores an object and returns its public URL.
type ObjectUploader interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ProgressSnapshot is the exported document for one user.
type ProgressSnapshot struct {
	ExportedAt time.Time              `json:"exported_at"`
	Progress   models.UserProgress    `json:"progress"`
	Badges     []models.BadgeUnlock   `json:"badges"`
	Videos     []models.VideoProgress `json:"videos"`
}

// SnapshotExporter writes one JSON document per user to object storage.
type SnapshotExporter struct {
	Store    store.Store
	Uploader ObjectUploader
	Prefix   string
	PageSize int
}

func NewSnapshotExporter(st store.Store, uploader ObjectUploader) *SnapshotExporter {
	return &SnapshotExporter{Store: st, Uploader: uploader, Prefix: "snapshots", PageSize: 200}
}

// SnapshotKey is the object key for userID's snapshot taken on day. The id
// is escaped, not folded: ids differing only by case get distinct keys.
func (e *SnapshotExporter) SnapshotKey(day time.Time, userID string) string {
	return fmt.Sprintf("%s/%s/%s.json", e.Prefix, day.Format("2006-01-02"), url.PathEscape(userID))
}

// ExportAll pages through every progress record and uploads its snapshot.
// A failed user is logged and skipped; the count of uploads is returned.
func (e *SnapshotExporter) ExportAll(ctx context.Context, day time.Time) (int, error) {
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	exported, failed := 0, 0
	after := ""
	for {
		page, err := e.Store.ListProgress(ctx, after, pageSize)
		if err != nil {
			return exported, fmt.Errorf("list progress after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, prog := range page {
			if err := e.exportOne(ctx, day, prog); err != nil {
				failed++
				log.Printf("⚠️ [SNAPSHOT] %s: %v", prog.ExternalUserID, err)
				continue
			}
			exported++
		}
		after = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}

	log.Printf("📦 [SNAPSHOT] Exported %d progress snapshot(s), %d failed", exported, failed)
	return exported, nil
}

func (e *SnapshotExporter) exportOne(ctx context.Context, day time.Time, prog models.UserProgress) error {
	badges, err := e.Store.ListBadges(ctx, prog.ExternalUserID)
	if err != nil {
		return fmt.Errorf("list badges: %w", err)
	}
	videos, err := e.Store.ListVideos(ctx, prog.ExternalUserID)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}

	body, err := json.Marshal(ProgressSnapshot{
		ExportedAt: time.Now().UTC(),
		Progress:   prog,
		Badges:     badges,
		Videos:     videos,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := e.Uploader.PutObject(ctx, e.SnapshotKey(day, prog.ExternalUserID), body, "application/json"); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}
