package model

import "time"

// Engine is one of the four backup engines the BackupStore partitions by.
type Engine string

const (
	EngineProspecting Engine = "prospecting"
	EngineAnalysis    Engine = "analysis"
	EngineOutreach    Engine = "outreach"
	EngineReports     Engine = "reports"
)

// UploadStatus is the lifecycle state of a BackupRecord. The directory a
// record's file lives in must always match this field: pending/uploaded
// live under leads/, failed lives under failed-uploads/.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

// BackupRecord is the canonical on-disk shape of a single backup file, per
// spec §3 and §6. Denormalized metadata fields are duplicated at the top
// level so directory scans (listPending, listFailed, stats) can filter
// without parsing Data.
type BackupRecord struct {
	FileID      string       `json:"file_id"`
	Engine      Engine       `json:"engine"`
	SavedAt     time.Time    `json:"saved_at"`
	CompanyName string       `json:"company_name"`
	URL         string       `json:"url,omitempty"`
	Grade       string       `json:"grade,omitempty"`
	Score       float64      `json:"score,omitempty"`
	Industry    string       `json:"industry,omitempty"`

	Data any `json:"data"`

	UploadedToDB bool         `json:"uploaded_to_db"`
	UploadStatus UploadStatus `json:"upload_status"`
	DatabaseID   string       `json:"database_id,omitempty"`
	UploadedAt   *time.Time   `json:"uploaded_at,omitempty"`

	UploadError string     `json:"upload_error,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

// Meta carries the denormalized fields the caller of BackupStore.Save
// supplies alongside the canonical payload. Fields are optional — absent
// ones are simply omitted from the resulting record.
type Meta struct {
	CompanyName string
	URL         string
	Grade       string
	Score       float64
	Industry    string
}

// Stats summarizes a BackupStore engine directory, per spec §4.1.
type Stats struct {
	Total       int     `json:"total"`
	Uploaded    int     `json:"uploaded"`
	Pending     int     `json:"pending"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// ValidationResult is the outcome of BackupStore.Validate.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
