package backupstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(root, zap.NewNop())
}

func TestSaveWritesPendingRecordUnderLeads(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Save(model.EngineAnalysis, map[string]any{"score": 91}, model.Meta{
		CompanyName: "Anthropic",
		URL:         "https://www.anthropic.com",
	})
	require.NoError(t, err)
	assert.Contains(t, filepath.ToSlash(path), "/analysis/leads/")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var record model.BackupRecord
	require.NoError(t, json.Unmarshal(raw, &record))

	assert.Equal(t, model.UploadPending, record.UploadStatus)
	assert.False(t, record.UploadedToDB)
	assert.Equal(t, "Anthropic", record.CompanyName)
}

func TestMarkUploadedTransitionsToUploaded(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Save(model.EngineAnalysis, map[string]any{"score": 91}, model.Meta{CompanyName: "Anthropic"})
	require.NoError(t, err)

	require.NoError(t, s.MarkUploaded(path, "db-123"))

	result := s.Validate(path)
	assert.True(t, result.Valid, result.Reason)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var record model.BackupRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, model.UploadUploaded, record.UploadStatus)
	assert.Equal(t, "db-123", record.DatabaseID)
	assert.NotNil(t, record.UploadedAt)
}

func TestMarkFailedMovesToFailedUploadsDirectory(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Save(model.EngineAnalysis, map[string]any{"score": 91}, model.Meta{CompanyName: "Anthropic"})
	require.NoError(t, err)

	newPath, err := s.MarkFailed(path, errors.New("Invalid API key"))
	require.NoError(t, err)

	assert.Contains(t, filepath.ToSlash(newPath), "/analysis/failed-uploads/")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "original pending file should be gone")

	result := s.Validate(newPath)
	assert.True(t, result.Valid, result.Reason)
}

func TestRetryRecoversAFailedRecord(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Save(model.EngineAnalysis, map[string]any{"score": 91}, model.Meta{CompanyName: "Anthropic"})
	require.NoError(t, err)

	failedPath, err := s.MarkFailed(path, errors.New("network unreachable"))
	require.NoError(t, err)

	uploadedPath, err := s.RetryToUploaded(failedPath, "db-456")
	require.NoError(t, err)

	assert.Contains(t, filepath.ToSlash(uploadedPath), "/analysis/leads/")
	result := s.Validate(uploadedPath)
	assert.True(t, result.Valid, result.Reason)

	raw, err := os.ReadFile(uploadedPath)
	require.NoError(t, err)
	var record model.BackupRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, model.UploadUploaded, record.UploadStatus)
	assert.Equal(t, 2, record.RetryCount)
}

func TestStatsCountsAcrossDirectories(t *testing.T) {
	s := newTestStore(t)

	p1, err := s.Save(model.EngineAnalysis, map[string]any{}, model.Meta{CompanyName: "A"})
	require.NoError(t, err)
	require.NoError(t, s.MarkUploaded(p1, "1"))

	_, err = s.Save(model.EngineAnalysis, map[string]any{}, model.Meta{CompanyName: "B"})
	require.NoError(t, err)

	p3, err := s.Save(model.EngineAnalysis, map[string]any{}, model.Meta{CompanyName: "C"})
	require.NoError(t, err)
	_, err = s.MarkFailed(p3, errors.New("db down"))
	require.NoError(t, err)

	stats, err := s.Stats(model.EngineAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Failed)
}

func TestListDirIgnoresPartiallyWrittenTempFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(model.EngineAnalysis, map[string]any{}, model.Meta{CompanyName: "A"})
	require.NoError(t, err)

	// Simulate a crash mid-write: a .tmp file left behind in the directory.
	require.NoError(t, os.WriteFile(filepath.Join(s.leadsDir(model.EngineAnalysis), "a.json.tmp.123.0"), []byte("{"), 0o644))

	pending, err := s.ListPending(model.EngineAnalysis)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMigrateFlatFormatRecord(t *testing.T) {
	s := newTestStore(t)
	dir := s.leadsDir(model.EngineAnalysis)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	flat := `{
		"saved_at": "2026-01-01T00:00:00Z",
		"company_name": "OldCo",
		"url": "https://oldco.example.com",
		"analysis_result": {"score": 80},
		"lead_data": {"industry": "retail"},
		"uploaded_to_db": false
	}`
	path := filepath.Join(dir, "oldco-2026-01-01-1.json")
	require.NoError(t, os.WriteFile(path, []byte(flat), 0o644))

	migrated, err := s.MigrateFile(path)
	require.NoError(t, err)
	assert.True(t, migrated)

	result := s.Validate(path)
	assert.True(t, result.Valid, result.Reason)

	migratedAgain, err := s.MigrateFile(path)
	require.NoError(t, err)
	assert.False(t, migratedAgain, "already-canonical record should not be re-migrated")
}
