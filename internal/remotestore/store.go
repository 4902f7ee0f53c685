package remotestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormProspectRepository is the GORM implementation of ProspectRepository.
type gormProspectRepository struct {
	db *gorm.DB
}

// NewProspectRepository returns a ProspectRepository backed by the provided
// *gorm.DB.
func NewProspectRepository(db *gorm.DB) ProspectRepository {
	return &gormProspectRepository{db: db}
}

// Upsert inserts p, or updates the row matching its natural key in place.
// GooglePlaceID takes precedence as the conflict target when non-empty;
// otherwise the (company_name, website) pair is used, matching the natural
// key resolution order in SPEC_FULL.md §3.
func (r *gormProspectRepository) Upsert(ctx context.Context, p *Prospect) error {
	conflictCols := []clause.Column{{Name: "company_name"}, {Name: "website"}}
	var targetWhere clause.Where
	if p.GooglePlaceID != "" {
		conflictCols = []clause.Column{{Name: "google_place_id"}}
		// idx_prospect_place_id is a partial index; the conflict target has
		// to repeat its predicate for the database to match it.
		targetWhere = clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "google_place_id != ''"}}}
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:     conflictCols,
			TargetWhere: targetWhere,
			DoUpdates:   clause.AssignmentColumns([]string{"industry", "location", "verified", "updated_at"}),
		}).
		Create(p).Error
	if err != nil {
		return fmt.Errorf("prospects: upsert: %w", err)
	}
	return nil
}

// GetByID retrieves a prospect by its UUID. Returns ErrNotFound if no
// record exists.
func (r *gormProspectRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prospect, error) {
	var p Prospect
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("prospects: get by id: %w", err)
	}
	return &p, nil
}

// GetByNaturalKey retrieves a prospect by GooglePlaceID when non-empty,
// otherwise by (companyName, website).
func (r *gormProspectRepository) GetByNaturalKey(ctx context.Context, googlePlaceID, companyName, website string) (*Prospect, error) {
	q := r.db.WithContext(ctx)
	var p Prospect
	var err error
	if googlePlaceID != "" {
		err = q.First(&p, "google_place_id = ?", googlePlaceID).Error
	} else {
		err = q.First(&p, "company_name = ? AND website = ?", companyName, website).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("prospects: get by natural key: %w", err)
	}
	return &p, nil
}

// List returns prospects ordered by creation time descending.
func (r *gormProspectRepository) List(ctx context.Context, opts ListOptions) ([]Prospect, int64, error) {
	var rows []Prospect
	var total int64
	q := r.db.WithContext(ctx).Model(&Prospect{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("prospects: count: %w", err)
	}
	if err := q.Order("created_at DESC").Limit(opts.Limit).Offset(opts.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("prospects: list: %w", err)
	}
	return rows, total, nil
}

// gormLeadRepository is the GORM implementation of LeadRepository.
type gormLeadRepository struct {
	db *gorm.DB
}

// NewLeadRepository returns a LeadRepository backed by the provided
// *gorm.DB.
func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &gormLeadRepository{db: db}
}

// Upsert inserts l, or updates the existing row matching its URL in place.
func (r *gormLeadRepository) Upsert(ctx context.Context, l *Lead) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"company_name", "industry", "grade", "overall_score",
				"scores", "issues", "strengths", "screenshots", "discovery_log",
				"updated_at",
			}),
		}).
		Create(l).Error
	if err != nil {
		return fmt.Errorf("leads: upsert: %w", err)
	}
	return nil
}

// GetByID retrieves a lead by its UUID. Returns ErrNotFound if no record
// exists.
func (r *gormLeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*Lead, error) {
	var l Lead
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("leads: get by id: %w", err)
	}
	return &l, nil
}

// GetByURL retrieves a lead by its natural key.
func (r *gormLeadRepository) GetByURL(ctx context.Context, url string) (*Lead, error) {
	var l Lead
	if err := r.db.WithContext(ctx).First(&l, "url = ?", url).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("leads: get by url: %w", err)
	}
	return &l, nil
}

// List returns leads ordered by creation time descending.
func (r *gormLeadRepository) List(ctx context.Context, opts ListOptions) ([]Lead, int64, error) {
	var rows []Lead
	var total int64
	q := r.db.WithContext(ctx).Model(&Lead{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("leads: count: %w", err)
	}
	if err := q.Order("created_at DESC").Limit(opts.Limit).Offset(opts.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("leads: list: %w", err)
	}
	return rows, total, nil
}

// gormOutreachVariantRepository is the GORM implementation of
// OutreachVariantRepository.
type gormOutreachVariantRepository struct {
	db *gorm.DB
}

// NewOutreachVariantRepository returns an OutreachVariantRepository backed
// by the provided *gorm.DB.
func NewOutreachVariantRepository(db *gorm.DB) OutreachVariantRepository {
	return &gormOutreachVariantRepository{db: db}
}

// Upsert inserts v, or updates the row matching (LeadID, Platform).
func (r *gormOutreachVariantRepository) Upsert(ctx context.Context, v *OutreachVariant) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lead_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "accepted", "reject_reason", "updated_at"}),
		}).
		Create(v).Error
	if err != nil {
		return fmt.Errorf("outreach_variants: upsert: %w", err)
	}
	return nil
}

// GetByID retrieves an outreach variant by its UUID. Returns ErrNotFound
// if no record exists.
func (r *gormOutreachVariantRepository) GetByID(ctx context.Context, id uuid.UUID) (*OutreachVariant, error) {
	var v OutreachVariant
	if err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("outreach_variants: get by id: %w", err)
	}
	return &v, nil
}

// ListByLead returns all outreach variants generated for a lead.
func (r *gormOutreachVariantRepository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]OutreachVariant, error) {
	var rows []OutreachVariant
	if err := r.db.WithContext(ctx).Where("lead_id = ?", leadID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("outreach_variants: list by lead: %w", err)
	}
	return rows, nil
}

// gormReportRepository is the GORM implementation of ReportRepository.
type gormReportRepository struct {
	db *gorm.DB
}

// NewReportRepository returns a ReportRepository backed by the provided
// *gorm.DB.
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &gormReportRepository{db: db}
}

// Upsert inserts r, or updates the row matching (LeadID, Format).
func (repo *gormReportRepository) Upsert(ctx context.Context, r *Report) error {
	err := repo.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lead_id"}, {Name: "format"}},
			DoUpdates: clause.AssignmentColumns([]string{"blob_url", "generated_at", "updated_at"}),
		}).
		Create(r).Error
	if err != nil {
		return fmt.Errorf("reports: upsert: %w", err)
	}
	return nil
}

// GetByID retrieves a report by its UUID. Returns ErrNotFound if no record
// exists.
func (repo *gormReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	var r Report
	if err := repo.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reports: get by id: %w", err)
	}
	return &r, nil
}

// ListByLead returns all reports generated for a lead.
func (repo *gormReportRepository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]Report, error) {
	var rows []Report
	if err := repo.db.WithContext(ctx).Where("lead_id = ?", leadID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reports: list by lead: %w", err)
	}
	return rows, nil
}
