package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	failKey string
}

func (f *fakeUploader) PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKey != "" && strings.Contains(key, f.failKey) {
		return "", errors.New("bucket unavailable")
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return "https://cdn.example.com/" + key, nil
}

func TestSnapshotExporter_ExportAll(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	for _, id := range []string{"user-a", "user-b", "user-c"} {
		if _, err := eng.Progression.EnsureProgressRecord(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := eng.Videos.RecordVideoProgress(ctx, "user-a", VideoProgressInput{VideoID: "v1", Percent: 100, SecondsWatched: 60}); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{}
	exp := NewSnapshotExporter(st, up)
	exp.PageSize = 2

	n, err := exp.ExportAll(ctx, day(2026, 10, 15, 3, 0))
	if err != nil {
		t.Fatalf("ExportAll() error: %v", err)
	}
	if n != 3 || len(up.objects) != 3 {
		t.Fatalf("exported %d (%d objects), want 3", n, len(up.objects))
	}

	body, ok := up.objects["snapshots/2026-10-15/user-a.json"]
	if !ok {
		t.Fatalf("missing user-a snapshot, have %v", up.objects)
	}
	var snap ProgressSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Progress.ExternalUserID != "user-a" || len(snap.Badges) != 1 || len(snap.Videos) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotExporter_SkipsFailedUploads(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()
	for _, id := range []string{"ok-user", "bad-user"} {
		if _, err := eng.Progression.EnsureProgressRecord(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	up := &fakeUploader{failKey: "bad-user"}
	n, err := NewSnapshotExporter(st, up).ExportAll(ctx, day(2026, 10, 15, 3, 0))
	if err != nil {
		t.Fatalf("ExportAll() error: %v", err)
	}
	if n != 1 {
		t.Errorf("exported %d, want 1", n)
	}
}

func TestSnapshotExporter_Key(t *testing.T) {
	exp := NewSnapshotExporter(nil, nil)
	got := exp.SnapshotKey(day(2026, 1, 2, 0, 0), "Jane Doe@Example")
	if !strings.HasPrefix(got, "snapshots/2026-01-02/") || !strings.HasSuffix(got, ".json") || strings.Contains(got, " ") {
		t.Errorf("SnapshotKey() = %q", got)
	}
	if strings.Count(exp.SnapshotKey(day(2026, 1, 2, 0, 0), "org/u1"), "/") != 2 {
		t.Error("a slash in the user id must not add a path segment")
	}
}

func TestSnapshotExporter_KeyIsCaseSensitive(t *testing.T) {
	exp := NewSnapshotExporter(nil, nil)
	d := day(2026, 1, 2, 0, 0)
	upper, lower := exp.SnapshotKey(d, "Kx9aB2"), exp.SnapshotKey(d, "kx9ab2")
	if upper == lower {
		t.Errorf("ids differing by case share key %q", upper)
	}
}

func TestSnapshotExporter_CaseVariantsBothUploaded(t *testing.T) {
	_, st := newTestEngine(t)
	ctx := context.Background()
	for _, id := range []string{"Kx9aB2", "kx9ab2"} {
		if _, _, err := st.EnsureProgress(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	up := &fakeUploader{}
	exp := NewSnapshotExporter(st, up)

	n, err := exp.ExportAll(ctx, day(2026, 1, 2, 0, 0))
	if err != nil {
		t.Fatalf("ExportAll() error: %v", err)
	}
	if n != 2 || len(up.objects) != 2 {
		t.Errorf("exported %d into %d objects, want 2 and 2", n, len(up.objects))
	}
}
