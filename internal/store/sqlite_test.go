package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/clipshrink/internal/jobs"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestRecording(id string) *jobs.Recording {
	return &jobs.Recording{
		ID:         id,
		Filename:   id + ".mp4",
		FilePath:   "/recordings/" + id + ".mp4",
		Duration:   12.5,
		FileSize:   4_000_000,
		CameraName: "default camera",
		Resolution: "1280x720",
		FrameRate:  30,
		CreatedAt:  time.Now(),
	}
}

func createTestJob(id, recordingID string) *jobs.Job {
	return &jobs.Job{
		ID:          id,
		RecordingID: recordingID,
		OutputPath:  "/recordings/" + recordingID + "_compressed_720p_1.mp4",
		Config:      []byte(`{"mode":"single","resolution":"720p","bitrate":"2M","fps":30,"codec":"h264","format":"mp4"}`),
		Status:      jobs.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func mustAddRecording(t *testing.T, store *SQLiteStore, id string) *jobs.Recording {
	t.Helper()
	rec := createTestRecording(id)
	if err := store.AddRecording(context.Background(), rec); err != nil {
		t.Fatalf("failed to add recording: %v", err)
	}
	return rec
}

func TestSQLiteStore_RecordingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := mustAddRecording(t, store, "rec-1")

	got, err := store.GetRecording(ctx, "rec-1")
	if err != nil {
		t.Fatalf("failed to get recording: %v", err)
	}
	if got.FilePath != rec.FilePath {
		t.Errorf("expected FilePath %s, got %s", rec.FilePath, got.FilePath)
	}
	if got.Duration != 12.5 || got.FrameRate != 30 || got.Resolution != "1280x720" {
		t.Errorf("metadata not preserved: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected CreatedAt %v, got %v", rec.CreatedAt, got.CreatedAt)
	}
}

func TestSQLiteStore_GetRecording_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecording(context.Background(), "missing")
	if !errors.Is(err, jobs.ErrRecordingNotFound) {
		t.Errorf("expected ErrRecordingNotFound, got %v", err)
	}
}

func TestSQLiteStore_InsertJob_RequiresRecording(t *testing.T) {
	store := newTestStore(t)

	err := store.InsertJob(context.Background(), createTestJob("job-1", "no-such-recording"))
	if err == nil {
		t.Fatal("expected foreign key error for unknown recording")
	}
}

func TestSQLiteStore_JobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")

	job := createTestJob("job-1", "rec-1")
	if err := store.InsertJob(ctx, job); err != nil {
		t.Fatalf("failed to insert job: %v", err)
	}

	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.Status != jobs.StatusPending {
		t.Errorf("expected Status pending, got %s", got.Status)
	}
	if string(got.Config) != string(job.Config) {
		t.Errorf("config blob changed: %s", got.Config)
	}
	if !got.StartedAt.IsZero() || !got.CompletedAt.IsZero() {
		t.Error("expected zero StartedAt and CompletedAt")
	}
}

func TestSQLiteStore_UpdateJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")

	job := createTestJob("job-1", "rec-1")
	store.InsertJob(ctx, job)

	job.Status = jobs.StatusCompleted
	job.Progress = 100
	job.OutputSize = 123456
	job.StartedAt = time.Now().Add(-time.Minute)
	job.CompletedAt = time.Now()
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}

	got, _ := store.GetJob(ctx, "job-1")
	if got.Status != jobs.StatusCompleted {
		t.Errorf("expected Status completed, got %s", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("expected Progress 100, got %d", got.Progress)
	}
	if got.OutputSize != 123456 {
		t.Errorf("expected OutputSize 123456, got %d", got.OutputSize)
	}
	if !got.CompletedAt.Equal(job.CompletedAt) {
		t.Errorf("expected CompletedAt %v, got %v", job.CompletedAt, got.CompletedAt)
	}
}

func TestSQLiteStore_UpdateJob_Missing(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateJob(context.Background(), createTestJob("ghost", "rec-1"))
	if !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSQLiteStore_DeleteJob_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")
	store.InsertJob(ctx, createTestJob("job-1", "rec-1"))

	if err := store.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.DeleteJob(ctx, "job-1"); err != nil {
		t.Errorf("second delete should not fail: %v", err)
	}
	if _, err := store.GetJob(ctx, "job-1"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}
}

func TestSQLiteStore_DeleteRecording_Cascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")
	mustAddRecording(t, store, "rec-2")
	store.InsertJob(ctx, createTestJob("job-1", "rec-1"))
	store.InsertJob(ctx, createTestJob("job-2", "rec-1"))
	store.InsertJob(ctx, createTestJob("job-3", "rec-2"))

	if err := store.DeleteRecording(ctx, "rec-1"); err != nil {
		t.Fatalf("delete recording failed: %v", err)
	}

	views, err := store.ListJobViews(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(views) != 1 || views[0].ID != "job-3" {
		t.Errorf("expected only job-3 to survive, got %d jobs", len(views))
	}
}

func TestSQLiteStore_ListJobViews_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		job := createTestJob(id, "rec-1")
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	views, err := store.ListJobViews(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"new", "mid", "old"}
	for i, v := range views {
		if v.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], v.ID)
		}
		if v.SourceFilename != "rec-1.mp4" {
			t.Errorf("expected source filename rec-1.mp4, got %q", v.SourceFilename)
		}
	}
}

func TestSQLiteStore_ListJobViews_SameTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")

	at := time.Now()
	for _, id := range []string{"first", "second"} {
		job := createTestJob(id, "rec-1")
		job.CreatedAt = at
		store.InsertJob(ctx, job)
	}

	views, _ := store.ListJobViews(ctx)
	if len(views) != 2 || views[0].ID != "second" {
		t.Errorf("expected later insert first on equal timestamps, got %v", views)
	}
}

func TestSQLiteStore_ListJobsByRecording(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")
	mustAddRecording(t, store, "rec-2")
	store.InsertJob(ctx, createTestJob("a", "rec-1"))
	store.InsertJob(ctx, createTestJob("b", "rec-2"))
	store.InsertJob(ctx, createTestJob("c", "rec-1"))

	list, err := store.ListJobsByRecording(ctx, "rec-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 jobs for rec-1, got %d", len(list))
	}
	for _, j := range list {
		if j.RecordingID != "rec-1" {
			t.Errorf("job %s belongs to %s", j.ID, j.RecordingID)
		}
	}
}

func TestSQLiteStore_FailUnfinishedJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")

	statuses := map[string]jobs.Status{
		"pending":    jobs.StatusPending,
		"processing": jobs.StatusProcessing,
		"completed":  jobs.StatusCompleted,
		"failed":     jobs.StatusFailed,
	}
	for id, status := range statuses {
		job := createTestJob(id, "rec-1")
		job.Status = status
		job.Progress = 40
		store.InsertJob(ctx, job)
	}

	count, err := store.FailUnfinishedJobs(ctx, jobs.ReasonRestart)
	if err != nil {
		t.Fatalf("fail unfinished: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 jobs changed, got %d", count)
	}

	for _, id := range []string{"pending", "processing"} {
		got, _ := store.GetJob(ctx, id)
		if got.Status != jobs.StatusFailed {
			t.Errorf("%s: expected failed, got %s", id, got.Status)
		}
		if got.Error != jobs.ReasonRestart {
			t.Errorf("%s: expected error %q, got %q", id, jobs.ReasonRestart, got.Error)
		}
		if got.Progress != 0 {
			t.Errorf("%s: expected progress reset, got %d", id, got.Progress)
		}
	}
	if got, _ := store.GetJob(ctx, "completed"); got.Status != jobs.StatusCompleted {
		t.Errorf("completed job changed to %s", got.Status)
	}
}

func TestSQLiteStore_CountByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddRecording(t, store, "rec-1")

	for i, status := range []jobs.Status{jobs.StatusPending, jobs.StatusPending, jobs.StatusFailed} {
		job := createTestJob(string(rune('a'+i)), "rec-1")
		job.Status = status
		store.InsertJob(ctx, job)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[jobs.StatusPending] != 2 || counts[jobs.StatusFailed] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if n, ok := counts[jobs.StatusCompleted]; !ok || n != 0 {
		t.Errorf("expected completed present with 0, got %v", counts)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	mustAddRecording(t, store1, "rec-1")
	store1.InsertJob(ctx, createTestJob("persist-test", "rec-1"))
	store1.Close()

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	if _, err := store2.GetJob(ctx, "persist-test"); err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestSQLiteStore_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "clipshrink.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustAddRecording(t, store, "rec-1")
	store.Close()

	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	if _, err := store.GetRecording(context.Background(), "rec-1"); err != nil {
		t.Errorf("recording lost on reopen: %v", err)
	}
	var rows, version int
	store.db.QueryRow("SELECT COUNT(*), MAX(version) FROM schema_version").Scan(&rows, &version)
	if rows != 1 || version != schemaVersion {
		t.Errorf("expected one version row at %d, got %d rows at %d", schemaVersion, rows, version)
	}
}

func TestSQLiteStore_RejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "newer.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE schema_version (version INTEGER NOT NULL, applied_at TEXT DEFAULT CURRENT_TIMESTAMP)`,
		`INSERT INTO schema_version (version) VALUES (99)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	db.Close()

	if store, err := NewSQLiteStore(dbPath); err == nil {
		store.Close()
		t.Fatal("expected an error opening a newer schema")
	}
}

func TestSQLiteStore_WALMode(t *testing.T) {
	store := newTestStore(t)

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL mode, got %s", mode)
	}
}

func TestInitStore_FailsInterruptedJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "clipshrink.db")
	ctx := context.Background()

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	mustAddRecording(t, store1, "rec-1")
	job := createTestJob("job-1", "rec-1")
	job.Status = jobs.StatusProcessing
	store1.InsertJob(ctx, job)
	store1.Close()

	store2, err := InitStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	defer store2.Close()

	got, _ := store2.GetJob(ctx, "job-1")
	if got.Status != jobs.StatusFailed || got.Error != jobs.ReasonRestart {
		t.Errorf("expected failed %q, got %s %q", jobs.ReasonRestart, got.Status, got.Error)
	}
}
