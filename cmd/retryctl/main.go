// Command retryctl is the operator CLI for the leadforge-core backup store:
// replaying failed remote-store upserts, validating and migrating backup
// files, and reporting backup statistics (spec §6 "CLI").
//
// Environment variables:
//
//	LEADFORGE_BACKUP_ROOT  Root directory of the local backup store (default: ./local-backups)
//	LEADFORGE_DB_DRIVER    "sqlite" or "postgres" (default: sqlite)
//	LEADFORGE_DB_DSN       DSN or file path for the remote store (default: ./leadforge.db)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leadforge/core/internal/backupstore"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/remotestore"
	"github.com/leadforge/core/internal/retrycoordinator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "retryctl",
		Short: "Operate on the leadforge-core local backup store",
	}

	root.AddCommand(
		newRetryFailedUploadsCmd(),
		newValidateExistingBackupsCmd(),
		newBackupStatsCmd(),
		newMigrateOldBackupsCmd(),
		newCleanupBackupsCmd(),
	)
	return root
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func backupRoot() string {
	return envOrDefault("LEADFORGE_BACKUP_ROOT", "./local-backups")
}

// openCoordinator wires a Store and the four remote-store repositories
// behind a Coordinator, the same collaborators cmd/server/main.go builds,
// minus the AI client and queue this CLI never touches.
func openCoordinator() (*retrycoordinator.Coordinator, func(), error) {
	logger, _ := zap.NewDevelopment()
	store := backupstore.New(backupRoot(), logger)

	gormDB, err := remotestore.Open(remotestore.Config{
		Driver:   envOrDefault("LEADFORGE_DB_DRIVER", "sqlite"),
		DSN:      envOrDefault("LEADFORGE_DB_DSN", "./leadforge.db"),
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open remote store: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	return &retrycoordinator.Coordinator{
		Backup:    store,
		Prospects: remotestore.NewProspectRepository(gormDB),
		Leads:     remotestore.NewLeadRepository(gormDB),
		Outreach:  remotestore.NewOutreachVariantRepository(gormDB),
		Reports:   remotestore.NewReportRepository(gormDB),
		Logger:    logger,
	}, closeFn, nil
}

func newRetryFailedUploadsCmd() *cobra.Command {
	var dryRun bool
	var engine string
	var company string
	var limit int

	cmd := &cobra.Command{
		Use:   "retry-failed-uploads",
		Short: "Re-attempt remote-store upserts for every failed backup record",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := openCoordinator()
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := c.Run(context.Background(), dryRun, retrycoordinator.Filter{
				Engine:           model.Engine(engine),
				CompanySubstring: company,
				Limit:            limit,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.Failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be retried without mutating anything")
	cmd.Flags().StringVar(&engine, "engine", "", "limit to one engine: prospecting, analysis, outreach, reports")
	cmd.Flags().StringVar(&company, "company", "", "limit to records whose company name contains this substring")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records to process (0 = unlimited)")
	return cmd
}

func newValidateExistingBackupsCmd() *cobra.Command {
	var engine string

	cmd := &cobra.Command{
		Use:   "validate-existing-backups",
		Short: "Check every backup file's structure and directory/status consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			store := backupstore.New(backupRoot(), logger)

			invalid := 0
			err := walkBackupFiles(backupRoot(), model.Engine(engine), func(path string) error {
				result := store.Validate(path)
				if !result.Valid {
					invalid++
					fmt.Printf("INVALID %s: %s\n", path, result.Reason)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if invalid > 0 {
				fmt.Printf("%d invalid record(s) found\n", invalid)
				os.Exit(1)
			}
			fmt.Println("all backup records valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&engine, "engine", "", "limit to one engine")
	return cmd
}

func newBackupStatsCmd() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "backup-stats",
		Short: "Summarize pending, uploaded, and failed backup record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			store := backupstore.New(backupRoot(), logger)

			engines := []model.Engine{
				model.EngineProspecting,
				model.EngineAnalysis,
				model.EngineOutreach,
				model.EngineReports,
			}

			var total model.Stats
			perEngine := make(map[model.Engine]model.Stats, len(engines))
			for _, engine := range engines {
				stats, err := store.Stats(engine)
				if err != nil {
					return fmt.Errorf("stats for %s: %w", engine, err)
				}
				perEngine[engine] = stats
				total.Total += stats.Total
				total.Uploaded += stats.Uploaded
				total.Pending += stats.Pending
				total.Failed += stats.Failed
			}
			if total.Total > 0 {
				total.SuccessRate = float64(total.Uploaded) / float64(total.Total)
			}

			if detailed {
				for _, engine := range engines {
					printStats(string(engine), perEngine[engine])
				}
			}
			printStats("total", total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "break counts down per engine")
	return cmd
}

func printStats(label string, s model.Stats) {
	fmt.Printf("%-12s total=%-5d uploaded=%-5d pending=%-5d failed=%-5d success_rate=%.2f\n",
		label, s.Total, s.Uploaded, s.Pending, s.Failed, s.SuccessRate)
}

func newMigrateOldBackupsCmd() *cobra.Command {
	var dryRun bool
	var uploadOnly bool
	var force bool

	cmd := &cobra.Command{
		Use:   "migrate-old-backups",
		Short: "Rewrite old flat-format backup files to the canonical shape and attempt their upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = force // unused: files that already look canonical are never re-migrated
			logger, _ := zap.NewDevelopment()
			store := backupstore.New(backupRoot(), logger)

			var touched []string
			err := walkBackupFiles(backupRoot(), "", func(path string) error {
				if uploadOnly {
					// Skip the structural rewrite entirely — only retry
					// the upload for records that are already canonical
					// (or were migrated by a previous run) but still pending.
					// Only analysis records qualify: uploadMigratedLeads
					// writes to the lead repository.
					raw, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					var record model.BackupRecord
					if err := json.Unmarshal(raw, &record); err == nil && record.UploadStatus == model.UploadPending && record.Engine == model.EngineAnalysis {
						touched = append(touched, path)
					}
					return nil
				}

				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				if !backupstore.IsFlatFormat(raw) {
					return nil
				}
				if dryRun {
					fmt.Printf("would migrate %s\n", path)
					touched = append(touched, path)
					return nil
				}
				if _, err := store.MigrateFile(path); err != nil {
					return fmt.Errorf("migrate %s: %w", path, err)
				}
				fmt.Printf("migrated %s\n", path)
				touched = append(touched, path)
				return nil
			})
			if err != nil {
				return err
			}
			if !uploadOnly {
				fmt.Printf("%d file(s) migrated\n", len(touched))
			}

			// S4: migration also attempts the upload, not just the rewrite.
			if !dryRun {
				if err := uploadMigratedLeads(store, touched); err != nil {
					return fmt.Errorf("upload migrated records: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be migrated without rewriting files or uploading")
	cmd.Flags().BoolVar(&uploadOnly, "upload-only", false, "skip the format rewrite; only retry the upload for already-canonical pending records")
	cmd.Flags().BoolVar(&force, "force", false, "has no effect: files that already look canonical are never re-migrated")
	return cmd
}

// uploadMigratedLeads re-attempts the remote-store upsert for any just-migrated
// record still marked pending. Flat-format records were only ever written by
// the analysis engine (migrate.go), so this always targets the lead repository.
func uploadMigratedLeads(store *backupstore.Store, paths []string) error {
	var pending []string
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var record model.BackupRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if record.UploadStatus == model.UploadPending {
			pending = append(pending, path)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	logger, _ := zap.NewDevelopment()
	gormDB, err := remotestore.Open(remotestore.Config{
		Driver:   envOrDefault("LEADFORGE_DB_DRIVER", "sqlite"),
		DSN:      envOrDefault("LEADFORGE_DB_DSN", "./leadforge.db"),
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	leads := remotestore.NewLeadRepository(gormDB)

	for _, path := range pending {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var record model.BackupRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}

		dataJSON, err := json.Marshal(record.Data)
		if err != nil {
			return err
		}
		lead := remotestore.Lead{
			URL:         record.URL,
			CompanyName: record.CompanyName,
			Scores:      string(dataJSON),
		}
		if err := leads.Upsert(context.Background(), &lead); err != nil {
			if _, markErr := store.MarkFailed(path, err); markErr != nil {
				return markErr
			}
			fmt.Printf("upload failed for %s: %v\n", path, err)
			continue
		}
		if err := store.MarkUploaded(path, lead.ID.String()); err != nil {
			return err
		}
		fmt.Printf("uploaded %s\n", path)
	}
	return nil
}

func newCleanupBackupsCmd() *cobra.Command {
	var days int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup-backups",
		Short: "Delete uploaded backup records older than --days (pending and failed records are never deleted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be a positive number of days")
			}
			logger, _ := zap.NewDevelopment()
			store := backupstore.New(backupRoot(), logger)

			cutoff := time.Now().AddDate(0, 0, -days)
			removed, err := store.Cleanup(cutoff, dryRun)
			if err != nil {
				return err
			}

			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			for _, path := range removed {
				fmt.Printf("%s %s\n", verb, path)
			}
			fmt.Printf("%d record(s) %s\n", len(removed), verb)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "age threshold in days (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be removed without deleting anything")
	return cmd
}

// walkBackupFiles walks every *.json backup record under root, optionally
// restricted to one engine's subdirectory, calling fn with each file path.
func walkBackupFiles(root string, engine model.Engine, fn func(path string) error) error {
	start := root
	if engine != "" {
		start = filepath.Join(root, string(engine))
	}

	err := filepath.Walk(start, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		return fn(path)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
