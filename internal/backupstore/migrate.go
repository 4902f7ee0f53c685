package backupstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/leadforge/core/internal/model"
)

// flatRecord is the pre-existing "flat" record shape (no nested data field)
// detected by the absence of "data" and the presence of "analysis_result"
// (spec §4.1 Format migration). Detection is purely structural — it never
// depends on a version field or any other hint.
type flatRecord struct {
	SavedAt        string         `json:"saved_at"`
	CompanyName    string         `json:"company_name"`
	URL            string         `json:"url"`
	AnalysisResult map[string]any `json:"analysis_result"`
	LeadData       map[string]any `json:"lead_data"`
	UploadedToDB   bool           `json:"uploaded_to_db"`
}

// IsFlatFormat reports whether raw JSON bytes look like the old flat
// format: no "data" key, but an "analysis_result" key present.
func IsFlatFormat(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, hasData := probe["data"]
	_, hasAnalysisResult := probe["analysis_result"]
	return !hasData && hasAnalysisResult
}

// MigrateFile rewrites a flat-format file at path into the canonical
// BackupRecord shape in place, without touching the remote store. The file
// keeps its path (migration rewrites content, not location); the returned
// bool reports whether a migration was actually performed.
func (s *Store) MigrateFile(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("backupstore: migrate read %s: %w", path, err)
	}
	if !IsFlatFormat(raw) {
		return false, nil
	}

	var flat flatRecord
	if err := json.Unmarshal(raw, &flat); err != nil {
		return false, fmt.Errorf("backupstore: migrate parse %s: %w", path, err)
	}

	savedAt, err := time.Parse(time.RFC3339, flat.SavedAt)
	if err != nil {
		savedAt = time.Now().UTC()
	}

	canonical := model.BackupRecord{
		FileID:      fileIDFromPath(path),
		Engine:      model.EngineAnalysis, // flat format was only ever used by the analysis engine
		SavedAt:     savedAt,
		CompanyName: flat.CompanyName,
		URL:         flat.URL,
		Data: map[string]any{
			"analysis_result": flat.AnalysisResult,
			"lead_data":       flat.LeadData,
		},
		UploadedToDB: flat.UploadedToDB,
		UploadStatus: model.UploadPending,
	}
	if flat.UploadedToDB {
		canonical.UploadStatus = model.UploadUploaded
	}

	if err := s.atomicWriteJSON(path, &canonical); err != nil {
		return false, fmt.Errorf("backupstore: migrate write %s: %w", path, err)
	}

	s.logger.Info("migrated flat-format backup record", zap.String("path", path))
	return true, nil
}

func fileIDFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
