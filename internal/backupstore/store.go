// Package backupstore implements the local-first durability layer of
// spec §4.1: a content-addressed, atomic local JSON store per engine, with
// lifecycle states pending -> uploaded | failed. It is injected at
// construction as a value carrying its root path (spec §9 — no
// process-wide singleton for backup paths, unlike the ad-hoc cwd-relative
// file operations patterns it replaces).
//
// Layout:
//
//	<root>/<engine>/leads/            # pending | uploaded
//	<root>/<engine>/failed-uploads/   # failed
package backupstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/model"
)

// Store is a BackupStore rooted at a single directory. The zero value is
// not usable — create instances with New.
type Store struct {
	root    string
	logger  *zap.Logger
	counter atomic.Uint64 // monotonic per-process suffix, combined with wall clock

	// scanMu serializes directory scans against concurrent writers enough
	// to avoid torn reads of the directory listing itself; individual file
	// reads are still protected by the atomic write discipline.
	scanMu sync.Mutex
}

// New returns a Store rooted at root. The caller is responsible for the
// BackupStore's single-writer-process invariant (spec §4.1): only one
// process should hold a Store for a given root at a time.
func New(root string, logger *zap.Logger) *Store {
	return &Store{root: root, logger: logger.Named("backupstore")}
}

func (s *Store) leadsDir(engine model.Engine) string {
	return filepath.Join(s.root, string(engine), "leads")
}

func (s *Store) failedDir(engine model.Engine) string {
	return filepath.Join(s.root, string(engine), "failed-uploads")
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases s, replaces runs of non-alphanumeric characters with a
// single hyphen, and trims leading/trailing hyphens.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// hostFromURL extracts a slug-friendly host from a URL string without
// pulling in net/url parsing edge cases — good enough for filenames.
func hostFromURL(rawURL string) string {
	u := strings.TrimPrefix(rawURL, "https://")
	u = strings.TrimPrefix(u, "http://")
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// Save writes a new pending record into <engine>/leads/ and returns its
// file path. I/O errors here are fatal to the caller per spec §4.1's
// failure model — the orchestrator must surface them, not swallow them.
func (s *Store) Save(engine model.Engine, data any, meta model.Meta) (string, error) {
	dir := s.leadsDir(engine)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backupstore: mkdir %s: %w", dir, err)
	}

	base := meta.CompanyName
	if base == "" {
		base = hostFromURL(meta.URL)
	}
	if base == "" {
		base = "unknown"
	}
	slug := slugify(base)
	if slug == "" {
		slug = "unknown"
	}

	now := time.Now().UTC()
	var fileID, path string
	for {
		fileID = fmt.Sprintf("%s-%s-%d", slug, now.Format("2006-01-02"), s.nextSuffix())
		path = filepath.Join(dir, fileID+".json")
		_, leadsErr := os.Stat(path)
		_, failedErr := os.Stat(filepath.Join(s.failedDir(engine), fileID+".json"))
		if os.IsNotExist(leadsErr) && os.IsNotExist(failedErr) {
			break
		}
	}

	record := model.BackupRecord{
		FileID:       fileID,
		Engine:       engine,
		SavedAt:      now,
		CompanyName:  meta.CompanyName,
		URL:          meta.URL,
		Grade:        meta.Grade,
		Score:        meta.Score,
		Industry:     meta.Industry,
		Data:         data,
		UploadedToDB: false,
		UploadStatus: model.UploadPending,
	}

	if err := s.atomicWriteJSON(path, &record); err != nil {
		return "", fmt.Errorf("backupstore: save %s: %w", fileID, err)
	}

	s.logger.Info("backup record saved",
		zap.String("file_id", fileID),
		zap.String("engine", string(engine)),
	)
	return path, nil
}

// nextSuffix returns a strictly monotonic per-process counter, combined by
// Save with the wall-clock date to form a filename. The counter restarts at
// 1 in every process, so Save resolves collisions across restarts by bumping
// the suffix again while the resulting name already exists in leads/ or
// failed-uploads/.
func (s *Store) nextSuffix() uint64 {
	return s.counter.Add(1)
}

// MarkUploaded reads the record at path, flips it to uploaded, and writes
// it back atomically in place. I/O errors here degrade to MarkFailed per
// spec §4.1: the remote write did succeed, so the operator must be able to
// replay it idempotently rather than lose track of the database_id.
func (s *Store) MarkUploaded(path, databaseID string) error {
	record, err := s.readRecord(path)
	if err != nil {
		return fmt.Errorf("backupstore: mark uploaded %s: %w", path, err)
	}

	now := time.Now().UTC()
	record.UploadStatus = model.UploadUploaded
	record.UploadedToDB = true
	record.DatabaseID = databaseID
	record.UploadedAt = &now
	record.UploadError = ""
	record.FailedAt = nil

	if err := s.atomicWriteJSON(path, record); err != nil {
		markErr := fmt.Errorf("remote write succeeded (database_id %s) but mark uploaded failed: %w", databaseID, err)
		if _, mfErr := s.MarkFailed(path, markErr); mfErr != nil {
			s.logger.Error("mark failed after mark uploaded error also failed",
				zap.String("path", path), zap.Error(mfErr))
		}
		return fmt.Errorf("backupstore: mark uploaded write %s: %w", path, err)
	}

	s.logger.Info("backup record uploaded",
		zap.String("file_id", record.FileID),
		zap.String("database_id", databaseID),
	)
	return nil
}

// MarkFailed reads the record at path, flips it to failed, and moves it into
// failed-uploads/ under the same file ID. If the delete of the original
// fails after the new copy is written, the failed-uploads/ copy is
// authoritative — callers should treat any leftover leads/ copy as a
// tombstone to be cleaned up on next scan.
func (s *Store) MarkFailed(path string, uploadErr error) (string, error) {
	record, err := s.readRecord(path)
	if err != nil {
		return "", fmt.Errorf("backupstore: mark failed %s: %w", path, err)
	}

	now := time.Now().UTC()
	record.UploadStatus = model.UploadFailed
	record.UploadedToDB = false
	record.UploadError = uploadErr.Error()
	record.FailedAt = &now
	record.RetryCount++

	failedDir := s.failedDir(record.Engine)
	if err := os.MkdirAll(failedDir, 0o755); err != nil {
		return "", fmt.Errorf("backupstore: mkdir %s: %w", failedDir, err)
	}
	newPath := filepath.Join(failedDir, record.FileID+".json")

	if err := s.atomicWriteJSON(newPath, record); err != nil {
		return "", fmt.Errorf("backupstore: mark failed write %s: %w", newPath, err)
	}

	if newPath != path {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			// The failed-uploads/ copy already exists and is authoritative;
			// the leftover leads/ copy is a tombstone, not a data-loss risk.
			s.logger.Warn("failed to remove original after mark-failed copy",
				zap.String("original", path),
				zap.Error(err),
			)
		}
	}

	s.logger.Warn("backup record marked failed",
		zap.String("file_id", record.FileID),
		zap.Error(uploadErr),
	)
	return newPath, nil
}

// RetryToUploaded is used by the retry coordinator: it moves a record from
// failed-uploads/ back to leads/, marks it uploaded and bumps retry_count.
func (s *Store) RetryToUploaded(path, databaseID string) (string, error) {
	record, err := s.readRecord(path)
	if err != nil {
		return "", fmt.Errorf("backupstore: retry %s: %w", path, err)
	}

	now := time.Now().UTC()
	record.RetryCount++
	record.UploadStatus = model.UploadUploaded
	record.UploadedToDB = true
	record.DatabaseID = databaseID
	record.UploadedAt = &now
	record.UploadError = ""
	record.FailedAt = nil

	leadsDir := s.leadsDir(record.Engine)
	if err := os.MkdirAll(leadsDir, 0o755); err != nil {
		return "", fmt.Errorf("backupstore: mkdir %s: %w", leadsDir, err)
	}
	newPath := filepath.Join(leadsDir, record.FileID+".json")

	if err := s.atomicWriteJSON(newPath, record); err != nil {
		return "", fmt.Errorf("backupstore: retry write %s: %w", newPath, err)
	}
	if newPath != path {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove failed-uploads copy after retry",
				zap.String("original", path), zap.Error(err))
		}
	}
	return newPath, nil
}

// RetryFailed is used by the retry coordinator on a re-attempt that still
// fails: it updates upload_error/failed_at in place, leaving the record in
// failed-uploads/.
func (s *Store) RetryFailed(path string, uploadErr error) error {
	record, err := s.readRecord(path)
	if err != nil {
		return fmt.Errorf("backupstore: retry-failed %s: %w", path, err)
	}
	now := time.Now().UTC()
	record.UploadError = uploadErr.Error()
	record.FailedAt = &now
	record.RetryCount++
	return s.atomicWriteJSON(path, record)
}

// readRecord parses the JSON file at path into a BackupRecord.
func (s *Store) readRecord(path string) (*model.BackupRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record model.BackupRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &record, nil
}

// atomicWriteJSON serializes v to JSON and writes it to path using the
// temp-file-then-rename discipline of spec §4.1: write to a temp file named
// path+".tmp.<unix-nanos>.<attempt>", fsync if supported, then rename. Rename failures are retried up to 3x
// with a fresh temp name.
func (s *Store) atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		tmpPath := fmt.Sprintf("%s.tmp.%d.%d", path, time.Now().UnixNano(), attempt)

		f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			lastErr = fmt.Errorf("create temp file: %w", err)
			continue
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(tmpPath)
			lastErr = fmt.Errorf("write temp file: %w", err)
			continue
		}
		// Best-effort fsync — ignored on platforms/filesystems that don't
		// support it for regular files opened this way.
		_ = f.Sync()
		if err := f.Close(); err != nil {
			os.Remove(tmpPath)
			lastErr = fmt.Errorf("close temp file: %w", err)
			continue
		}

		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			lastErr = fmt.Errorf("rename: %w", err)
			continue
		}
		_ = dir
		return nil
	}
	return lastErr
}

// ListPending returns all records in <engine>/leads/ with upload_status
// pending (excludes already-uploaded records).
func (s *Store) ListPending(engine model.Engine) ([]RecordRef, error) {
	return s.listDir(s.leadsDir(engine), func(r *model.BackupRecord) bool {
		return r.UploadStatus == model.UploadPending
	})
}

// ListFailed returns all records in <engine>/failed-uploads/.
func (s *Store) ListFailed(engine model.Engine) ([]RecordRef, error) {
	return s.listDir(s.failedDir(engine), func(r *model.BackupRecord) bool {
		return true
	})
}

// RecordRef pairs a parsed record with its file path for callers (retry
// coordinator, stats) that need both.
type RecordRef struct {
	Path   string
	Record *model.BackupRecord
}

func (s *Store) listDir(dir string, keep func(*model.BackupRecord) bool) ([]RecordRef, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backupstore: read dir %s: %w", dir, err)
	}

	var out []RecordRef
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp.") || !strings.HasSuffix(e.Name(), ".json") {
			// Ignore partially-written .tmp files — readers tolerate them
			// by skipping, per spec §4.1's filesystem-exclusivity note.
			continue
		}
		path := filepath.Join(dir, e.Name())
		record, err := s.readRecord(path)
		if err != nil {
			s.logger.Warn("skipping unreadable backup record", zap.String("path", path), zap.Error(err))
			continue
		}
		if keep(record) {
			out = append(out, RecordRef{Path: path, Record: record})
		}
	}
	return out, nil
}

// Stats scans both directories for engine and summarizes counts.
func (s *Store) Stats(engine model.Engine) (model.Stats, error) {
	leads, err := s.listDir(s.leadsDir(engine), func(*model.BackupRecord) bool { return true })
	if err != nil {
		return model.Stats{}, err
	}
	failed, err := s.listDir(s.failedDir(engine), func(*model.BackupRecord) bool { return true })
	if err != nil {
		return model.Stats{}, err
	}

	var stats model.Stats
	for _, ref := range leads {
		stats.Total++
		switch ref.Record.UploadStatus {
		case model.UploadUploaded:
			stats.Uploaded++
		case model.UploadPending:
			stats.Pending++
		}
	}
	stats.Failed = len(failed)
	stats.Total += len(failed)

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Uploaded) / float64(stats.Total)
	}
	return stats, nil
}

// Validate checks that the file at path parses as JSON, has the required
// fields, and that its upload_status matches the directory it lives in.
func (s *Store) Validate(path string) model.ValidationResult {
	record, err := s.readRecord(path)
	if err != nil {
		return model.ValidationResult{Valid: false, Reason: err.Error()}
	}
	if record.FileID == "" {
		return model.ValidationResult{Valid: false, Reason: "missing file_id"}
	}
	if record.Engine == "" {
		return model.ValidationResult{Valid: false, Reason: "missing engine"}
	}
	if record.Data == nil {
		return model.ValidationResult{Valid: false, Reason: "missing data"}
	}

	inFailedDir := strings.Contains(filepath.ToSlash(path), "/failed-uploads/")
	if inFailedDir && record.UploadStatus != model.UploadFailed {
		return model.ValidationResult{Valid: false, Reason: "upload_status does not match failed-uploads/ directory"}
	}
	if !inFailedDir && record.UploadStatus == model.UploadFailed {
		return model.ValidationResult{Valid: false, Reason: "upload_status=failed but file resides in leads/"}
	}

	return model.ValidationResult{Valid: true}
}

// Cleanup removes uploaded records older than cutoff across every engine.
// Only uploaded records are ever eligible — pending and failed records are
// left untouched regardless of age, since deleting either would discard
// work that was never confirmed durable in the remote store. When dryRun
// is true, nothing is deleted; the paths that would be removed are still
// returned so callers can report them.
func (s *Store) Cleanup(cutoff time.Time, dryRun bool) ([]string, error) {
	var removed []string
	for _, engine := range []model.Engine{
		model.EngineProspecting,
		model.EngineAnalysis,
		model.EngineOutreach,
		model.EngineReports,
	} {
		refs, err := s.listDir(s.leadsDir(engine), func(r *model.BackupRecord) bool {
			return r.UploadStatus == model.UploadUploaded && r.UploadedAt != nil && r.UploadedAt.Before(cutoff)
		})
		if err != nil {
			return removed, err
		}
		for _, ref := range refs {
			if !dryRun {
				if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
					return removed, fmt.Errorf("backupstore: cleanup remove %s: %w", ref.Path, err)
				}
			}
			removed = append(removed, ref.Path)
		}
	}
	return removed, nil
}
