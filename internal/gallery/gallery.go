// Package gallery reads the reference-face directory: one sub-directory per
// identity, holding one or more face images of that person.
package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MetadataFile is written by the sync job next to the identity folders.
const MetadataFile = ".cache_metadata.json"

// DefaultStaleAfter is how old a sync may get before a warning is logged.
const DefaultStaleAfter = 10 * time.Minute

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// Image is one reference picture of an identity.
type Image struct {
	Identity string
	Path     string
}

// Name is the file name, used as the enrollment source.
func (i Image) Name() string {
	return filepath.Base(i.Path)
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Walk lists every reference image under dir, sorted by identity then file name.
// Hidden entries and files directly under dir are ignored.
func Walk(dir string) ([]Image, error) {
	people, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference directory: %w", err)
	}

	var out []Image
	for _, p := range people {
		if !p.IsDir() || hidden(p.Name()) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, p.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || hidden(f.Name()) || !IsImage(f.Name()) {
				continue
			}
			out = append(out, Image{Identity: p.Name(), Path: filepath.Join(dir, p.Name(), f.Name())})
		}
	}

	// os.ReadDir already sorts by name; keep the order explicit for callers.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Metadata describes the last reference sync.
type Metadata struct {
	LastSync    time.Time
	SourceURL   string
	TotalImages int
}

type rawMetadata struct {
	LastSync    string `json:"last_sync"`
	SourceURL   string `json:"source_url"`
	TotalImages int    `json:"total_images"`
}

// sync timestamps are usually naive local ISO-8601 with microseconds
var syncLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseSyncTime(s string) (time.Time, error) {
	for _, layout := range syncLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised last_sync timestamp %q", s)
}

// ReadMetadata loads dir's sync metadata. It returns nil without error when
// the directory was never synced.
func ReadMetadata(dir string) (*Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var r rawMetadata
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", MetadataFile, err)
	}
	ts, err := parseSyncTime(r.LastSync)
	if err != nil {
		return nil, err
	}
	return &Metadata{LastSync: ts, SourceURL: r.SourceURL, TotalImages: r.TotalImages}, nil
}

// Age is how long ago the sync ran.
func (m *Metadata) Age(now time.Time) time.Duration {
	return now.Sub(m.LastSync)
}

// CheckFreshness logs the sync state of dir and reports whether it is older than staleAfter.
func CheckFreshness(log logrus.FieldLogger, dir string, now time.Time, staleAfter time.Duration) bool {
	md, err := ReadMetadata(dir)
	if err != nil {
		log.WithError(err).Warn("could not read reference sync metadata")
		return false
	}
	if md == nil {
		return false
	}

	age := md.Age(now)
	log.WithFields(logrus.Fields{
		"last_sync":    md.LastSync.Format("2006-01-02 15:04:05"),
		"minutes_ago":  int(age.Minutes()),
		"total_images": md.TotalImages,
	}).Info("reference cache status")

	if age > staleAfter {
		log.Warnf("reference cache is %d minutes old, check the sync service", int(age.Minutes()))
		return true
	}
	return false
}
