package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"progression-system/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Writes are serialised by a mutex so
// AtomicUpdate only conflicts when conflicts are injected. It also counts
// committed transactions, which tests use to observe XP award calls.
type MemoryStore struct {
	mu       sync.Mutex
	opts     Options
	progress map[string]*models.UserProgress
	videos   map[string]map[string]*models.VideoProgress
	badges   map[string]map[string]models.BadgeUnlock

	transactions int
	conflicts    int
	failures     map[string]error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts.withDefaults(),
		progress: make(map[string]*models.UserProgress),
		videos:   make(map[string]map[string]*models.VideoProgress),
		badges:   make(map[string]map[string]models.BadgeUnlock),
		failures: make(map[string]error),
	}
}

// TransactionCount returns how many AtomicUpdate calls committed a write.
func (m *MemoryStore) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions
}

// InjectConflicts makes the next n AtomicUpdate commits lose their race.
func (m *MemoryStore) InjectConflicts(n int) {
	m.mu.Lock()
	m.conflicts = n
	m.mu.Unlock()
}

// FailOn makes every call of the named method return err until cleared with a nil err.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MemoryStore) failure(method string) error {
	if err, ok := m.failures[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (m *MemoryStore) ensureLocked(userID string) (*models.UserProgress, bool) {
	if p, ok := m.progress[userID]; ok {
		return p, false
	}
	p := m.opts.newRecord(userID)
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.progress[userID] = &p
	return &p, true
}

func (m *MemoryStore) touchLocked(p *models.UserProgress) {
	p.Version++
	p.UpdatedAt = time.Now()
}

func (m *MemoryStore) EnsureProgress(ctx context.Context, userID string) (*models.UserProgress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("EnsureProgress"); err != nil {
		return nil, false, err
	}
	p, created := m.ensureLocked(userID)
	cp := *p
	return &cp, created, nil
}

func (m *MemoryStore) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetProgress"); err != nil {
		return nil, err
	}
	p, ok := m.progress[userID]
	if !ok {
		return nil, fmt.Errorf("progress for %s: %w", userID, ErrRecordNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProgress(ctx context.Context, afterID string, limit int) ([]models.UserProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserProgress
	for _, p := range m.progress {
		if p.ID > afterID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AtomicUpdate(ctx context.Context, userID string, fn UpdateFunc) (*models.UserProgress, error) {
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mu.Lock()
		if err := m.failure("AtomicUpdate"); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		current, _ := m.ensureLocked(userID)
		snapshot := *current
		if err := fn(&snapshot); err != nil {
			cp := *current
			m.mu.Unlock()
			if errors.Is(err, ErrSkipWrite) {
				return &cp, nil
			}
			return nil, err
		}
		if m.conflicts > 0 {
			m.conflicts--
			m.mu.Unlock()
			log.Printf("[STORE] ⚠️ write conflict on progress of %s (attempt %d/%d)", userID, attempt, m.opts.MaxRetries)
			continue
		}
		copyTransactional(current, &snapshot)
		m.touchLocked(current)
		m.transactions++
		out := *current
		m.mu.Unlock()
		return &out, nil
	}
	return nil, fmt.Errorf("%w: progress of %s after %d attempts", ErrTransactionAborted, userID, m.opts.MaxRetries)
}

func (m *MemoryStore) SetMerge(ctx context.Context, userID string, fields map[string]any) error {
	if err := checkMergeable(fields); err != nil {
		return err
	}
	m.mu.Lock()
	m.ensureLocked(userID)
	m.mu.Unlock()
	return m.UpdateFields(ctx, userID, fields)
}

func (m *MemoryStore) UpdateFields(ctx context.Context, userID string, fields map[string]any) error {
	if err := checkMergeable(fields); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpdateFields"); err != nil {
		return err
	}
	p, ok := m.progress[userID]
	if !ok {
		return fmt.Errorf("progress for %s: %w", userID, ErrRecordNotFound)
	}
	for k, v := range fields {
		switch k {
		case "streak_days":
			n, ok := v.(int)
			if !ok {
				return fmt.Errorf("streak_days: want int, got %T", v)
			}
			p.StreakDays = n
		case "last_seen_at":
			switch t := v.(type) {
			case time.Time:
				p.LastSeenAt = &t
			case *time.Time:
				p.LastSeenAt = t
			case nil:
				p.LastSeenAt = nil
			default:
				return fmt.Errorf("last_seen_at: want time, got %T", v)
			}
		case "badge_pass_pending":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("badge_pass_pending: want bool, got %T", v)
			}
			p.BadgePassPending = b
		}
	}
	m.touchLocked(p)
	return nil
}

func (m *MemoryStore) IncrementField(ctx context.Context, userID, field string, delta float64) error {
	isInt, ok := counterFields[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("IncrementField"); err != nil {
		return err
	}
	p, _ := m.ensureLocked(userID)
	if isInt {
		p.VideosWatched += int64(delta)
	} else {
		p.MinutesWatched += delta
	}
	m.touchLocked(p)
	return nil
}

func (m *MemoryStore) ListPendingBadgePasses(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, p := range m.progress {
		if p.BadgePassPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryStore) AppendUnique(ctx context.Context, userID string, unlocks []models.BadgeUnlock) ([]models.BadgeUnlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AppendUnique"); err != nil {
		return nil, err
	}
	owned, ok := m.badges[userID]
	if !ok {
		owned = make(map[string]models.BadgeUnlock)
		m.badges[userID] = owned
	}
	var added []models.BadgeUnlock
	for _, u := range unlocks {
		if _, dup := owned[u.BadgeID]; dup {
			continue
		}
		u.ExternalUserID = userID
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		owned[u.BadgeID] = u
		added = append(added, u)
	}
	return added, nil
}

func (m *MemoryStore) ListBadges(ctx context.Context, userID string) ([]models.BadgeUnlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListBadges"); err != nil {
		return nil, err
	}
	out := make([]models.BadgeUnlock, 0, len(m.badges[userID]))
	for _, u := range m.badges[userID] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].BadgeID < out[j].BadgeID
		}
		return out[i].UnlockedAt.Before(out[j].UnlockedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetVideo(ctx context.Context, userID, videoID string) (*models.VideoProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetVideo"); err != nil {
		return nil, err
	}
	v, ok := m.videos[userID][videoID]
	if !ok {
		return nil, fmt.Errorf("video %s for %s: %w", videoID, userID, ErrRecordNotFound)
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) UpsertVideo(ctx context.Context, v *models.VideoProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("UpsertVideo"); err != nil {
		return err
	}
	byVideo, ok := m.videos[v.ExternalUserID]
	if !ok {
		byVideo = make(map[string]*models.VideoProgress)
		m.videos[v.ExternalUserID] = byVideo
	}
	now := time.Now()
	if existing, ok := byVideo[v.VideoID]; ok {
		existing.Title = v.Title
		existing.TitleSlug = v.TitleSlug
		existing.Progression = v.Progression
		existing.SecondsWatched = v.SecondsWatched
		existing.UpdatedAt = now
		return nil
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	cp := *v
	cp.Complete = false
	cp.CompletedAt = nil
	cp.CreatedAt, cp.UpdatedAt = now, now
	byVideo[v.VideoID] = &cp
	return nil
}

func (m *MemoryStore) MarkVideoComplete(ctx context.Context, userID, videoID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("MarkVideoComplete"); err != nil {
		return false, err
	}
	v, ok := m.videos[userID][videoID]
	if !ok || v.Complete {
		return false, nil
	}
	v.Complete = true
	v.CompletedAt = &at
	v.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ListVideos(ctx context.Context, userID string) ([]models.VideoProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListVideos"); err != nil {
		return nil, err
	}
	out := make([]models.VideoProgress, 0, len(m.videos[userID]))
	for _, v := range m.videos[userID] {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out, nil
}
