package retrycoordinator

import (
	"context"
	"testing"

	gormlogger "gorm.io/gorm/logger"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/backupstore"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/remotestore"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	db, err := remotestore.Open(remotestore.Config{
		Driver:   "sqlite",
		DSN:      "file:" + t.Name() + "?mode=memory&cache=shared",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)

	return &Coordinator{
		Backup:    backupstore.New(t.TempDir(), zap.NewNop()),
		Prospects: remotestore.NewProspectRepository(db),
		Leads:     remotestore.NewLeadRepository(db),
		Outreach:  remotestore.NewOutreachVariantRepository(db),
		Reports:   remotestore.NewReportRepository(db),
		Logger:    zap.NewNop(),
	}
}

func TestDryRunListsWithoutMutating(t *testing.T) {
	c := newTestCoordinator(t)

	path, err := c.Backup.Save(model.EngineProspecting, map[string]any{
		"company_name": "Acme Co",
		"website":      "https://acme.example",
		"industry":     "widgets",
	}, model.Meta{CompanyName: "Acme Co"})
	require.NoError(t, err)
	_, err = c.Backup.MarkFailed(path, assertErr("remote unreachable"))
	require.NoError(t, err)

	result, err := c.Run(context.Background(), true, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Attempted)
	require.False(t, result.Outcomes[0].Retried)

	// Still failed afterward — dry run must not mutate anything.
	failed, err := c.Backup.ListFailed(model.EngineProspecting)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestRunRetriesFailedProspectAndMovesItToLeads(t *testing.T) {
	c := newTestCoordinator(t)

	path, err := c.Backup.Save(model.EngineProspecting, map[string]any{
		"company_name": "Acme Co",
		"website":      "https://acme.example",
		"industry":     "widgets",
		"verified":     true,
	}, model.Meta{CompanyName: "Acme Co"})
	require.NoError(t, err)
	_, err = c.Backup.MarkFailed(path, assertErr("remote unreachable"))
	require.NoError(t, err)

	result, err := c.Run(context.Background(), false, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, 0, result.Failed)

	failed, err := c.Backup.ListFailed(model.EngineProspecting)
	require.NoError(t, err)
	require.Empty(t, failed)

	stats, err := c.Backup.Stats(model.EngineProspecting)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Uploaded)
}

func TestRunFiltersByCompanySubstring(t *testing.T) {
	c := newTestCoordinator(t)

	pathA, err := c.Backup.Save(model.EngineProspecting, map[string]any{"company_name": "Acme Co", "website": "https://acme.example"}, model.Meta{CompanyName: "Acme Co"})
	require.NoError(t, err)
	_, err = c.Backup.MarkFailed(pathA, assertErr("x"))
	require.NoError(t, err)

	pathB, err := c.Backup.Save(model.EngineProspecting, map[string]any{"company_name": "Globex", "website": "https://globex.example"}, model.Meta{CompanyName: "Globex"})
	require.NoError(t, err)
	_, err = c.Backup.MarkFailed(pathB, assertErr("x"))
	require.NoError(t, err)

	refs, err := c.ListFailed(Filter{CompanySubstring: "acme"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "Acme Co", refs[0].Record.CompanyName)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
