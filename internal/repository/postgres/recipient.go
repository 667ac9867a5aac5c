package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// DefaultBatchSize is the number of rows per multi-row upsert.
const DefaultBatchSize = 100

// RecipientRepo persists recipients in PostgreSQL. Every write goes through
// one INSERT .. ON CONFLICT statement whose update clause ORs the engagement
// flags, so concurrent writers to the same key cannot lose a true flag.
type RecipientRepo struct {
	db        *sql.DB
	batchSize int
	log       *logger.Logger
}

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB, batchSize int) *RecipientRepo {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecipientRepo{db: db, batchSize: batchSize, log: logger.With("component", "recipient_repo")}
}

const recipientInsertColumns = 10

const recipientUpsertPrefix = `
	INSERT INTO recipients
		(campaign_id, contact_id, email, subscription_status, custom_fields,
		 opened, clicked, bounced, complained, unsubscribed)
	VALUES `

const recipientUpsertSuffix = `
	ON CONFLICT (campaign_id, contact_id) DO UPDATE SET
		email = COALESCE(NULLIF(EXCLUDED.email, ''), recipients.email),
		subscription_status = COALESCE(NULLIF(EXCLUDED.subscription_status, ''), recipients.subscription_status),
		custom_fields = CASE WHEN EXCLUDED.custom_fields = '{}'::jsonb
			THEN recipients.custom_fields ELSE EXCLUDED.custom_fields END,
		opened = recipients.opened OR EXCLUDED.opened,
		clicked = recipients.clicked OR EXCLUDED.clicked,
		bounced = recipients.bounced OR EXCLUDED.bounced,
		complained = recipients.complained OR EXCLUDED.complained,
		unsubscribed = recipients.unsubscribed OR EXCLUDED.unsubscribed`

// UpsertRecipient merges one partial recipient into the store.
func (r *RecipientRepo) UpsertRecipient(ctx context.Context, item domain.Recipient) error {
	if err := r.exec(ctx, []domain.Recipient{item}); err != nil {
		return &domain.WriteError{CampaignID: item.CampaignID, ContactID: item.ContactID, Err: err}
	}
	return nil
}

// UpsertRecipients merges partial recipients in batches. Repeated keys are
// folded with domain.CoalesceRecipients first, which gives the same result as
// applying them one by one. A failed batch is retried item by item and
// items that still fail are reported in the result. The returned error is
// only set when ctx is done.
func (r *RecipientRepo) UpsertRecipients(ctx context.Context, items []domain.Recipient) (domain.BulkResult, error) {
	var res domain.BulkResult
	merged := domain.CoalesceRecipients(items)

	for start := 0; start < len(merged); start += r.batchSize {
		end := start + r.batchSize
		if end > len(merged) {
			end = len(merged)
		}
		batch := merged[start:end]

		err := r.exec(ctx, batch)
		if err == nil {
			res.Upserted += len(batch)
			continue
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		r.log.Warn("batch upsert failed, retrying per item", "batch", len(batch), "error", err)
		for _, item := range batch {
			if err := r.UpsertRecipient(ctx, item); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Failed = append(res.Failed, err.(*domain.WriteError))
				continue
			}
			res.Upserted++
		}
	}
	return res, nil
}

func (r *RecipientRepo) exec(ctx context.Context, batch []domain.Recipient) error {
	if len(batch) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(recipientUpsertPrefix)
	args := make([]interface{}, 0, len(batch)*recipientInsertColumns)
	for i, item := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * recipientInsertColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d::jsonb, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)

		fields, err := encodeFields(item.Fields)
		if err != nil {
			return err
		}
		e := item.Engagement
		args = append(args, item.CampaignID, item.ContactID, item.Email, item.Status, fields,
			e.Opened, e.Clicked, e.Bounced, e.Complained, e.Unsubscribed)
	}
	sb.WriteString(recipientUpsertSuffix)

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert recipients: %w", err)
	}
	return nil
}

// ListRecipients returns every stored recipient of a campaign ordered by
// contact id.
func (r *RecipientRepo) ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, contact_id, email, subscription_status, custom_fields,
		       opened, clicked, bounced, complained, unsubscribed
		FROM recipients
		WHERE campaign_id = $1
		ORDER BY contact_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var (
			rec    domain.Recipient
			fields []byte
		)
		e := &rec.Engagement
		if err := rows.Scan(&rec.CampaignID, &rec.ContactID, &rec.Email, &rec.Status, &fields,
			&e.Opened, &e.Clicked, &e.Bounced, &e.Complained, &e.Unsubscribed); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &rec.Fields); err != nil {
				return nil, fmt.Errorf("decode custom fields for %s: %w", rec.ContactID, err)
			}
			if len(rec.Fields) == 0 {
				rec.Fields = nil
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal custom fields: %w", err)
	}
	return string(b), nil
}
