package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/council/internal/council"
)

// ErrChecksumMismatch indicates a saved report was edited after it was written.
var ErrChecksumMismatch = errors.New("artifact: checksum mismatch")

// Store saves rendered reports under a directory, one markdown file per run.
type Store struct {
	dir string
	now func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	store := &Store{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

// MetadataFor summarizes report for the front matter.
func MetadataFor(report *council.Report) Metadata {
	meta := Metadata{
		RunID:       report.RunID,
		Task:        report.Task,
		Members:     report.Members,
		Model:       report.Model,
		Policy:      string(report.Policy),
		Completed:   report.Tally.Completed,
		Failed:      report.Tally.Failed,
		TimedOut:    report.Tally.TimedOut,
		Synthesized: report.Synthesis.Succeeded(),
		CreatedAt:   report.Timestamp,
	}
	for _, sec := range report.Sections {
		meta.Constraints = append(meta.Constraints, string(sec.ConstraintID))
	}
	return meta
}

// Save writes body (the rendered report) with front matter and returns the
// file path.
func (s *Store) Save(report *council.Report, body []byte) (string, error) {
	if report == nil || report.RunID == "" {
		return "", fmt.Errorf("artifact: report missing run id")
	}
	meta := MetadataFor(report)
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	meta.Checksum = checksum(body)
	content, err := WriteFrontMatter(meta, body)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: ensure report dir: %w", err)
	}
	short := report.RunID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s-%s.md", meta.CreatedAt.UTC().Format("20060102T150405Z"), short)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write report: %w", err)
	}
	return path, nil
}

// Load reads a saved report and verifies its checksum.
func (s *Store) Load(path string) (Metadata, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, nil, err
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return Metadata{}, nil, err
	}
	if meta.Checksum != "" && meta.Checksum != checksum(body) {
		return meta, body, fmt.Errorf("%w: %s", ErrChecksumMismatch, filepath.Base(path))
	}
	return meta, body, nil
}

// List returns the metadata of every saved report, newest first. Files that
// fail to parse are skipped.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		meta, _, err := s.Load(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func checksum(body []byte) string {
	sum := sha256.Sum256(normalizeNewlines(body))
	return "sha256:" + hex.EncodeToString(sum[:])
}
