package remotestore

import (
	"context"

	"github.com/google/uuid"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// ProspectRepository persists candidate companies surfaced by the
// prospecting stage, keyed by GooglePlaceID when present, otherwise by
// (CompanyName, Website).
type ProspectRepository interface {
	// Upsert inserts p, or updates the existing row matching its natural
	// key in place, per spec §4.4's idempotent-upsert contract.
	Upsert(ctx context.Context, p *Prospect) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prospect, error)
	GetByNaturalKey(ctx context.Context, googlePlaceID, companyName, website string) (*Prospect, error)
	List(ctx context.Context, opts ListOptions) ([]Prospect, int64, error)
}

// LeadRepository persists analyzed, scored companies, keyed by URL.
type LeadRepository interface {
	Upsert(ctx context.Context, l *Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	GetByURL(ctx context.Context, url string) (*Lead, error)
	List(ctx context.Context, opts ListOptions) ([]Lead, int64, error)
}

// OutreachVariantRepository persists generated outreach messages, keyed by
// (LeadID, Platform).
type OutreachVariantRepository interface {
	Upsert(ctx context.Context, v *OutreachVariant) error
	GetByID(ctx context.Context, id uuid.UUID) (*OutreachVariant, error)
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]OutreachVariant, error)
}

// ReportRepository persists generated report artifacts, keyed by
// (LeadID, Format).
type ReportRepository interface {
	Upsert(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]Report, error)
}
