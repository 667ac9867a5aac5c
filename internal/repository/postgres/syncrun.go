package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/engagement-sync/internal/domain"
)

// SyncRunRepo keeps the ledger of sync runs.
type SyncRunRepo struct{ db *sql.DB }

// NewSyncRunRepo creates a Postgres-backed run ledger.
func NewSyncRunRepo(db *sql.DB) *SyncRunRepo { return &SyncRunRepo{db: db} }

// RecordRun inserts or finalizes a run summary.
func (r *SyncRunRepo) RecordRun(ctx context.Context, run domain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, mode, campaign_id, started_at, finished_at, campaigns_processed, campaigns_skipped,
			 recipients_upserted, files_exported, failures, aborted, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			campaigns_processed = EXCLUDED.campaigns_processed,
			campaigns_skipped = EXCLUDED.campaigns_skipped,
			recipients_upserted = EXCLUDED.recipients_upserted,
			files_exported = EXCLUDED.files_exported,
			failures = EXCLUDED.failures,
			aborted = EXCLUDED.aborted,
			error = EXCLUDED.error
	`, run.ID, string(run.Mode), run.CampaignID, run.StartedAt, nullTime(run.FinishedAt),
		run.CampaignsProcessed, run.CampaignsSkipped, run.RecipientsUpserted, run.FilesExported,
		string(failures), run.Aborted, run.Error)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (r *SyncRunRepo) LatestRun(ctx context.Context) (domain.SyncRun, error) {
	var (
		run      domain.SyncRun
		mode     string
		finished sql.NullTime
		failures []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, mode, campaign_id, started_at, finished_at, campaigns_processed, campaigns_skipped,
		       recipients_upserted, files_exported, failures, aborted, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &mode, &run.CampaignID, &run.StartedAt, &finished,
		&run.CampaignsProcessed, &run.CampaignsSkipped, &run.RecipientsUpserted, &run.FilesExported,
		&failures, &run.Aborted, &run.Error)
	if err == sql.ErrNoRows {
		return domain.SyncRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("latest sync run: %w", err)
	}
	run.Mode = domain.SyncMode(mode)
	run.FinishedAt = timePtr(finished)
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return domain.SyncRun{}, fmt.Errorf("decode failures: %w", err)
		}
	}
	return run, nil
}
