package remotestore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base mirrors Arkeep's db.base: every row gets a time-ordered UUIDv7
// primary key assigned on creation, unless the caller has already set one.
type base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a UUIDv7 ID when the caller leaves ID unset, the same
// hook Arkeep attaches to every embeddable base.
func (b *base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// Prospect is a candidate company surfaced by the prospecting stage, before
// it has been analyzed into a Lead. Natural key: GooglePlaceID when present,
// otherwise the (CompanyName, Website) pair.
type Prospect struct {
	base
	GooglePlaceID string `gorm:"uniqueIndex:idx_prospect_place_id,where:google_place_id != ''"`
	CompanyName   string `gorm:"index:idx_prospect_name_site,unique"`
	Website       string `gorm:"index:idx_prospect_name_site,unique"`
	Industry      string
	Location      string
	Verified      bool
}

// Lead is an analyzed, scored company — the row the analyze stage upserts
// into and the outreach/report stages key off of. Natural key: URL.
type Lead struct {
	base
	URL          string `gorm:"uniqueIndex"`
	CompanyName  string
	Industry     string
	Grade        string
	OverallScore int
	Scores       string `gorm:"type:text;default:'{}'"`  // JSON object, per-dimension scores
	Issues       string `gorm:"type:text;default:'[]'"`  // JSON array of strings, the per-dimension analysis issues
	Strengths    string `gorm:"type:text;default:'[]'"`  // JSON array of strings
	Screenshots  string `gorm:"type:text;default:'{}'"`  // JSON object, dimension -> blob URL
	DiscoveryLog string `gorm:"type:text;default:'{}'"`  // JSON-encoded model.Plan, kept for audit
}

// OutreachVariant is one generated outreach message for a Lead on a given
// platform (email, linkedin, ...). Natural key: (LeadID, Platform).
type OutreachVariant struct {
	base
	LeadID       uuid.UUID `gorm:"uniqueIndex:idx_outreach_lead_platform"`
	Platform     string    `gorm:"uniqueIndex:idx_outreach_lead_platform"`
	Subject      string
	Body         string
	Accepted     bool
	RejectReason string
}

// Report is a generated report artifact for a Lead in a given format.
// Natural key: (LeadID, Format).
type Report struct {
	base
	LeadID      uuid.UUID `gorm:"uniqueIndex:idx_report_lead_format"`
	Format      string    `gorm:"uniqueIndex:idx_report_lead_format"`
	BlobURL     string
	GeneratedAt time.Time
}

// AllModels lists every model AutoMigrate (or migration generation tooling)
// needs to know about, in FK-safe creation order.
func AllModels() []any {
	return []any{
		&Prospect{},
		&Lead{},
		&OutreachVariant{},
		&Report{},
	}
}
