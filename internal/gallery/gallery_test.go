package gallery

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalk(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "S002", "front.JPG"))
	touch(t, filepath.Join(dir, "S001", "b.png"))
	touch(t, filepath.Join(dir, "S001", "a.jpeg"))
	touch(t, filepath.Join(dir, "S001", "notes.txt"))
	touch(t, filepath.Join(dir, "S001", ".thumb.jpg"))
	touch(t, filepath.Join(dir, ".trash", "old.jpg"))
	touch(t, filepath.Join(dir, "stray.jpg"))
	touch(t, filepath.Join(dir, MetadataFile))

	images, err := Walk(dir)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	want := []Image{
		{Identity: "S001", Path: filepath.Join(dir, "S001", "a.jpeg")},
		{Identity: "S001", Path: filepath.Join(dir, "S001", "b.png")},
		{Identity: "S002", Path: filepath.Join(dir, "S002", "front.JPG")},
	}
	if len(images) != len(want) {
		t.Fatalf("Expected %d images, got %+v", len(want), images)
	}
	for i := range want {
		if images[i] != want[i] {
			t.Errorf("images[%d] = %+v, want %+v", i, images[i], want[i])
		}
	}
	if images[2].Name() != "front.JPG" {
		t.Errorf("Name() = %s", images[2].Name())
	}
}

func TestWalk_MissingDir(t *testing.T) {
	if _, err := Walk(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected an error for a missing directory")
	}
}

func TestReadMetadata(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantNil  bool
		wantErr  bool
		wantTime time.Time
	}{
		{
			name:     "naive iso with microseconds",
			body:     `{"last_sync": "2024-03-01T09:15:30.123456", "total_images": 42}`,
			wantTime: time.Date(2024, 3, 1, 9, 15, 30, 123456000, time.Local),
		},
		{
			name:     "rfc3339",
			body:     `{"last_sync": "2024-03-01T09:15:30Z", "total_images": 1}`,
			wantTime: time.Date(2024, 3, 1, 9, 15, 30, 0, time.UTC),
		},
		{name: "garbage timestamp", body: `{"last_sync": "yesterday"}`, wantErr: true},
		{name: "bad json", body: `{`, wantErr: true},
		{name: "missing file", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.body != "" {
				os.WriteFile(filepath.Join(dir, MetadataFile), []byte(tt.body), 0644)
			}
			md, err := ReadMetadata(dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadMetadata failed: %v", err)
			}
			if tt.wantNil {
				if md != nil {
					t.Fatalf("Expected nil metadata, got %+v", md)
				}
				return
			}
			if !md.LastSync.Equal(tt.wantTime) {
				t.Errorf("LastSync = %s, want %s", md.LastSync, tt.wantTime)
			}
		})
	}
}

func TestCheckFreshness(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"last_sync": "2024-03-01T09:00:00Z", "total_images": 3}`), 0644)
	synced := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	logger, hook := test.NewNullLogger()
	if CheckFreshness(logger, dir, synced.Add(5*time.Minute), DefaultStaleAfter) {
		t.Error("5 minutes should be fresh")
	}
	if !CheckFreshness(logger, dir, synced.Add(11*time.Minute), DefaultStaleAfter) {
		t.Error("11 minutes should be stale")
	}
	if last := hook.LastEntry(); last == nil || last.Level != logrus.WarnLevel {
		t.Errorf("Expected a staleness warning, got %+v", last)
	}

	if CheckFreshness(logger, t.TempDir(), synced, DefaultStaleAfter) {
		t.Error("Unsynced directory should not be reported stale")
	}
}

func TestWatcher_BatchesChanges(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "S001", "a.jpg"))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	changes := make(chan []string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := Watch(ctx, dir, 100*time.Millisecond, logger, func(paths []string) {
		changes <- paths
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	touch(t, filepath.Join(dir, "S001", "b.jpg"))
	touch(t, filepath.Join(dir, "S001", "ignored.txt"))
	touch(t, filepath.Join(dir, "S001", ".hidden.jpg"))

	select {
	case paths := <-changes:
		found := false
		for _, p := range paths {
			if filepath.Base(p) == "ignored.txt" || filepath.Base(p) == ".hidden.jpg" {
				t.Errorf("Unexpected path in change set: %s", p)
			}
			if filepath.Base(p) == "b.jpg" {
				found = true
			}
		}
		if !found {
			t.Errorf("b.jpg missing from change set %v", paths)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for change notification")
	}
}
