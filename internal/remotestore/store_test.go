package remotestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{
		Driver:   "sqlite",
		DSN:      "file:" + t.Name() + "?mode=memory&cache=shared",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	return db
}

func TestProspectUpsertByGooglePlaceIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewProspectRepository(newTestDB(t))

	p := &Prospect{GooglePlaceID: "place-1", CompanyName: "Acme", Website: "https://acme.test"}
	require.NoError(t, repo.Upsert(ctx, p))

	again := &Prospect{GooglePlaceID: "place-1", CompanyName: "Acme Inc", Website: "https://acme.test", Industry: "retail"}
	require.NoError(t, repo.Upsert(ctx, again))

	got, err := repo.GetByNaturalKey(ctx, "place-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "retail", got.Industry)

	_, total, err := repo.List(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "second upsert must update, not insert a second row")
}

func TestProspectUpsertFallsBackToNameAndWebsiteWithoutPlaceID(t *testing.T) {
	ctx := context.Background()
	repo := NewProspectRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, &Prospect{CompanyName: "Acme", Website: "https://acme.test"}))
	require.NoError(t, repo.Upsert(ctx, &Prospect{CompanyName: "Acme", Website: "https://acme.test", Verified: true}))

	got, err := repo.GetByNaturalKey(ctx, "", "Acme", "https://acme.test")
	require.NoError(t, err)
	assert.True(t, got.Verified)
}

func TestLeadUpsertByURLIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewLeadRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, &Lead{URL: "https://acme.test", Grade: "C", OverallScore: 55}))
	require.NoError(t, repo.Upsert(ctx, &Lead{URL: "https://acme.test", Grade: "B", OverallScore: 72}))

	got, err := repo.GetByURL(ctx, "https://acme.test")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Grade)
	assert.Equal(t, 72, got.OverallScore)

	_, total, err := repo.List(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestOutreachVariantUpsertByLeadAndPlatform(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	leads := NewLeadRepository(db)
	variants := NewOutreachVariantRepository(db)

	lead := &Lead{URL: "https://acme.test"}
	require.NoError(t, leads.Upsert(ctx, lead))

	require.NoError(t, variants.Upsert(ctx, &OutreachVariant{LeadID: lead.ID, Platform: "email", Subject: "Hi"}))
	require.NoError(t, variants.Upsert(ctx, &OutreachVariant{LeadID: lead.ID, Platform: "email", Subject: "Hello", Accepted: true}))

	rows, err := variants.ListByLead(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Hello", rows[0].Subject)
	assert.True(t, rows[0].Accepted)
}

func TestReportUpsertByLeadAndFormat(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	leads := NewLeadRepository(db)
	reports := NewReportRepository(db)

	lead := &Lead{URL: "https://acme.test"}
	require.NoError(t, leads.Upsert(ctx, lead))

	require.NoError(t, reports.Upsert(ctx, &Report{LeadID: lead.ID, Format: "pdf", BlobURL: "s3://v1"}))
	require.NoError(t, reports.Upsert(ctx, &Report{LeadID: lead.ID, Format: "pdf", BlobURL: "s3://v2"}))

	rows, err := reports.ListByLead(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s3://v2", rows[0].BlobURL)
}

func TestGetByURLReturnsErrNotFoundForMissingRow(t *testing.T) {
	ctx := context.Background()
	repo := NewLeadRepository(newTestDB(t))
	_, err := repo.GetByURL(ctx, "https://missing.test")
	assert.ErrorIs(t, err, ErrNotFound)
}
