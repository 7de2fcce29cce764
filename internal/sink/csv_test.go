package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
)

func TestCSV_DailyFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCSV(dir, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []types.AttendanceEvent{
		{IdentityID: "S001", Status: types.StatusIn, Time: day1},
		{IdentityID: "S001", Status: types.StatusOut, Time: day1.Add(12 * time.Second)},
		{IdentityID: "S002", Status: types.StatusIn, Time: day1.Add(24 * time.Hour)},
	}
	for _, ev := range events {
		if err := c.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "attendance_2024-03-01.csv"))
	if err != nil {
		t.Fatal(err)
	}
	want := "name,status,timestamp\nS001,IN,2024-03-01 09:00:00\nS001,OUT,2024-03-01 09:00:12\n"
	if string(raw) != want {
		t.Errorf("Unexpected day one file:\n%s", raw)
	}

	got, err := ReadCSV(c.PathFor(day1.Add(24*time.Hour)), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].IdentityID != "S002" || !got[0].Time.Equal(events[2].Time) {
		t.Errorf("Unexpected day two events %+v", got)
	}
}

func TestCSV_AppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		c, err := NewCSV(dir, time.UTC)
		if err != nil {
			t.Fatal(err)
		}
		ev := types.AttendanceEvent{IdentityID: "S001", Status: types.StatusIn, Time: at.Add(time.Duration(i) * time.Minute)}
		if err := c.Append(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
		c.Close()
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "attendance_2024-03-01.csv"))
	if n := strings.Count(string(raw), "name,status,timestamp"); n != 1 {
		t.Errorf("Header written %d times", n)
	}
	events, err := ReadCSV(filepath.Join(dir, "attendance_2024-03-01.csv"), time.UTC)
	if err != nil || len(events) != 2 {
		t.Errorf("ReadCSV = %d events, %v", len(events), err)
	}
}

func TestReadCSV_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	os.WriteFile(path, []byte("name,status,timestamp\nS001,SIDEWAYS,2024-03-01 09:00:00\n"), 0644)
	if _, err := ReadCSV(path, time.UTC); err == nil {
		t.Error("Expected an error for an invalid status")
	}
}
