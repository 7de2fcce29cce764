package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
)

const (
	csvDayLayout  = "2006-01-02"
	csvTimeLayout = "2006-01-02 15:04:05"
)

var csvHeader = []string{"name", "status", "timestamp"}

// CSV appends events to one file per local day: attendance_YYYY-MM-DD.csv.
type CSV struct {
	dir string
	loc *time.Location

	mu   sync.Mutex
	day  string
	file *os.File
	w    *csv.Writer
}

// NewCSV creates dir if needed. A nil loc means time.Local.
func NewCSV(dir string, loc *time.Location) (*CSV, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create csv directory: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &CSV{dir: dir, loc: loc}, nil
}

// PathFor is the file an event at t lands in.
func (c *CSV) PathFor(t time.Time) string {
	return filepath.Join(c.dir, fmt.Sprintf("attendance_%s.csv", t.In(c.loc).Format(csvDayLayout)))
}

func (c *CSV) Append(_ context.Context, ev types.AttendanceEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rotate(ev.Time); err != nil {
		return err
	}

	row := []string{ev.IdentityID, string(ev.Status), ev.Time.In(c.loc).Format(csvTimeLayout)}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

// rotate opens the file for t's day, writing the header into new files.
func (c *CSV) rotate(t time.Time) error {
	day := t.In(c.loc).Format(csvDayLayout)
	if c.file != nil && c.day == day {
		return nil
	}
	if err := c.closeFile(); err != nil {
		return err
	}

	path := c.PathFor(t)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return err
		}
		w.Flush()
	}

	c.file, c.w, c.day = f, w, day
	return nil
}

func (c *CSV) closeFile() error {
	if c.file == nil {
		return nil
	}
	c.w.Flush()
	err := errors.Join(c.w.Error(), c.file.Close())
	c.file, c.w, c.day = nil, nil, ""
	return err
}

// Close flushes and closes the current day's file.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeFile()
}

// ReadCSV loads one day file back as events. Session ids are not stored in CSV.
func ReadCSV(path string, loc *time.Location) ([]types.AttendanceEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var out []types.AttendanceEvent
	for i, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", path, i+2, len(csvHeader), len(rec))
		}
		status, err := types.ParseStatus(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		ts, err := time.ParseInLocation(csvTimeLayout, rec[2], loc)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out = append(out, types.AttendanceEvent{IdentityID: rec[0], Status: status, Time: ts})
	}
	return out, nil
}
