// workers/account_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"progression-system/models"
	"progression-system/utils"
)

// RemoteAccount is one account entry from the profile sync service.
type RemoteAccount struct {
	ID            string    `json:"id"`
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	AccountStatus string    `json:"account_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetUserChangesResponse is the top-level structure of the sync service response.
type GetUserChangesResponse struct {
	Users []RemoteAccount `json:"users"`
}

// ProgressInitializer creates a user's progress record if missing.
type ProgressInitializer interface {
	EnsureProgressRecord(ctx context.Context, externalUserID string) (*models.UserProgress, error)
}

// AccountSyncWorker polls the sync service for new or changed accounts and
// makes sure each one has a progress record.
type AccountSyncWorker struct {
	progress     ProgressInitializer
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client

	since time.Time
}

func NewAccountSyncWorker(progress ProgressInitializer, syncServiceBaseURL, endpointPath, serviceToken string) *AccountSyncWorker {
	return &AccountSyncWorker{
		progress:     progress,
		interval:     1 * time.Minute,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.NewHTTPClient(30 * time.Second),
	}
}

// WithInterval overrides the poll interval.
func (w *AccountSyncWorker) WithInterval(d time.Duration) *AccountSyncWorker {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Start runs the worker until ctx is cancelled.
func (w *AccountSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Account Sync Worker (sync-service → user_progress)…")
	go w.run(ctx)
}

func (w *AccountSyncWorker) run(ctx context.Context) {
	// Initial sync from the beginning of time
	if _, err := w.SyncOnce(ctx); err != nil {
		log.Printf("⚠️ Initial sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				log.Printf("❌ Sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Account Sync Worker stopped")
			return
		}
	}
}

// SyncOnce fetches changes since the last seen account update and returns
// how many progress records it ensured. The cursor only advances on success.
func (w *AccountSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	sinceStr := w.since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid base sync service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	log.Printf("[SYNC] ➡️  GET %s", finalURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("[SYNC] ❌ Sync service returned %d for %s: %s", resp.StatusCode, finalURL, string(body))
		return 0, fmt.Errorf("sync service non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response GetUserChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	if len(response.Users) == 0 {
		log.Printf("[SYNC] ✅ No account changes since %s", sinceStr)
		return 0, nil
	}

	var ensured, failed int
	latest := w.since
	for _, acct := range response.Users {
		if acct.ExternalID == "" {
			continue
		}
		if _, err := w.progress.EnsureProgressRecord(ctx, acct.ExternalID); err != nil {
			failed++
			log.Printf("[SYNC] ⚠️ Failed to init progress (external_id=%q, username=%q): %v",
				acct.ExternalID, acct.Username, err)
			continue
		}
		ensured++
		if acct.UpdatedAt.After(latest) {
			latest = acct.UpdatedAt
		}
	}

	// Keep the cursor put when anything failed so the next poll retries it.
	if failed == 0 {
		w.since = latest
	}
	log.Printf("[SYNC] ✅ Synced %d account(s) (%d ensured, %d errors)", len(response.Users), ensured, failed)
	return ensured, nil
}
