package workers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"progression-system/models"
)

type fakeInitializer struct {
	mu      sync.Mutex
	ensured []string
	failFor string
}

func (f *fakeInitializer) EnsureProgressRecord(ctx context.Context, externalUserID string) (*models.UserProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if externalUserID == f.failFor {
		return nil, errors.New("store unavailable")
	}
	f.ensured = append(f.ensured, externalUserID)
	p := models.NewUserProgress(externalUserID)
	return &p, nil
}

func newSyncServer(t *testing.T, users []RemoteAccount, sinces *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Service-Token") != "svc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		*sinces = append(*sinces, r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode(GetUserChangesResponse{Users: users})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAccountSyncWorker_SyncOnce(t *testing.T) {
	updated := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	var sinces []string
	srv := newSyncServer(t, []RemoteAccount{
		{ExternalID: "u1", UpdatedAt: updated.Add(-time.Hour)},
		{ExternalID: "u2", UpdatedAt: updated},
		{ExternalID: ""},
	}, &sinces)

	initr := &fakeInitializer{}
	w := NewAccountSyncWorker(initr, srv.URL, "/api/v1/public/profiles", "svc")

	n, err := w.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce() error: %v", err)
	}
	if n != 2 || len(initr.ensured) != 2 {
		t.Errorf("ensured %d (%v), want 2", n, initr.ensured)
	}

	if _, err := w.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sinces) != 2 || sinces[1] != updated.Format(time.RFC3339) {
		t.Errorf("since params = %v, want cursor at %s", sinces, updated.Format(time.RFC3339))
	}
}

func TestAccountSyncWorker_FailureHoldsCursor(t *testing.T) {
	var sinces []string
	srv := newSyncServer(t, []RemoteAccount{
		{ExternalID: "u1", UpdatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
	}, &sinces)

	w := NewAccountSyncWorker(&fakeInitializer{failFor: "u1"}, srv.URL, "/profiles", "svc")
	if _, err := w.SyncOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !w.since.IsZero() {
		t.Errorf("cursor advanced to %v despite a failure", w.since)
	}
}

func TestAccountSyncWorker_Non200(t *testing.T) {
	var sinces []string
	srv := newSyncServer(t, nil, &sinces)

	w := NewAccountSyncWorker(&fakeInitializer{}, srv.URL, "/profiles", "wrong")
	if _, err := w.SyncOnce(context.Background()); err == nil {
		t.Error("expected an error for a rejected service token")
	}
}
