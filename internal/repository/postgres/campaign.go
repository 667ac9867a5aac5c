package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/engagement-sync/internal/domain"
)

// CampaignRepo persists campaigns in PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `campaign_id, name, subject, from_name, from_email, status,
	created_at, sent_at, stats, last_synced_at`

// UpsertCampaign inserts c or replaces its metadata wholesale. The sync
// bookkeeping column last_synced_at is left alone.
func (r *CampaignRepo) UpsertCampaign(ctx context.Context, c domain.Campaign) error {
	stats, err := json.Marshal(c.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(campaign_id, name, subject, from_name, from_email, status, created_at, sent_at, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		ON CONFLICT (campaign_id) DO UPDATE SET
			name = EXCLUDED.name,
			subject = EXCLUDED.subject,
			from_name = EXCLUDED.from_name,
			from_email = EXCLUDED.from_email,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			sent_at = EXCLUDED.sent_at,
			stats = EXCLUDED.stats
	`, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail, string(c.Status),
		nullTime(c.CreatedAt), nullTime(c.SentAt), string(stats))
	if err != nil {
		return &domain.WriteError{CampaignID: c.ID, Err: fmt.Errorf("upsert campaign: %w", err)}
	}
	return nil
}

// GetCampaign loads one campaign.
func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return domain.Campaign{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns returns every stored campaign ordered by id.
func (r *CampaignRepo) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY campaign_id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastSynced returns the last successful sync time of each given campaign.
// Campaigns never synced are absent from the map.
func (r *CampaignRepo) LastSynced(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, last_synced_at FROM campaigns
		WHERE campaign_id = ANY($1) AND last_synced_at IS NOT NULL
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("last synced: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan last synced: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

// MarkSynced records that every report of the campaign was merged at at.
func (r *CampaignRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET last_synced_at = $1 WHERE campaign_id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s scanner) (domain.Campaign, error) {
	var (
		c                         domain.Campaign
		status                    string
		created, sent, lastSynced sql.NullTime
		stats                     []byte
	)
	if err := s.Scan(&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &status,
		&created, &sent, &stats, &lastSynced); err != nil {
		return c, err
	}
	c.Status = domain.CampaignStatus(status)
	c.CreatedAt = timePtr(created)
	c.SentAt = timePtr(sent)
	c.LastSyncedAt = timePtr(lastSynced)
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &c.Stats); err != nil {
			return c, fmt.Errorf("decode stats: %w", err)
		}
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
