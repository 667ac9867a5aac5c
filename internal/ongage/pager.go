package ongage

import (
	"context"
	"errors"

	"github.com/ignite/engagement-sync/internal/domain"
)

// ErrNoMorePages is returned by NextPage once a paginator is exhausted.
var ErrNoMorePages = errors.New("ongage: no more pages")

// CampaignPaginator walks GET /api/mailings page by page. A failed NextPage
// leaves the offset untouched so the same page is requested again.
type CampaignPaginator struct {
	client   *Client
	pageSize int
	offset   int
	done     bool
}

// HasMorePages reports whether NextPage may return more campaigns.
func (p *CampaignPaginator) HasMorePages() bool { return !p.done }

// NextPage fetches the next page of campaigns.
func (p *CampaignPaginator) NextPage(ctx context.Context) ([]domain.Campaign, error) {
	if p.done {
		return nil, ErrNoMorePages
	}
	resp, err := p.client.campaignPage(ctx, p.pageSize, p.offset)
	if err != nil {
		return nil, err
	}

	p.offset += len(resp.Payload)
	if lastPage(resp.Metadata, len(resp.Payload), p.pageSize) {
		p.done = true
	}

	out := make([]domain.Campaign, 0, len(resp.Payload))
	for _, c := range resp.Payload {
		if c.ID.String() == "" {
			continue
		}
		out = append(out, c.ToDomain())
	}
	return out, nil
}

// ReportPaginator walks one report kind of one campaign. Contacts already
// returned by this paginator are dropped, and a page made up only of such
// contacts ends the walk, so overlapping upstream pages cannot loop forever.
type ReportPaginator struct {
	client     *Client
	campaignID string
	kind       domain.ReportKind
	pageSize   int
	offset     int
	done       bool
	seen       map[string]struct{}
	anonymous  int
}

// Kind returns the report kind this paginator walks.
func (p *ReportPaginator) Kind() domain.ReportKind { return p.kind }

// HasMorePages reports whether NextPage may return more contacts.
func (p *ReportPaginator) HasMorePages() bool { return !p.done }

// Unidentified returns how many rows so far carried neither a contact id
// nor an email.
func (p *ReportPaginator) Unidentified() int { return p.anonymous }

// NextPage fetches the next page of partial recipients. Each carries only
// this report's engagement flag.
func (p *ReportPaginator) NextPage(ctx context.Context) ([]domain.Recipient, error) {
	if p.done {
		return nil, ErrNoMorePages
	}
	resp, err := p.client.reportPage(ctx, p.campaignID, p.kind, p.pageSize, p.offset)
	if err != nil {
		return nil, err
	}

	offset := p.offset
	p.offset += len(resp.Payload)

	out := make([]domain.Recipient, 0, len(resp.Payload))
	identified := 0
	for i, row := range resp.Payload {
		r := row.ToRecipient(p.campaignID, p.kind)
		if r.ContactID == "" {
			p.anonymous++
			p.client.log.Warn("report row without contact id or email",
				"campaign_id", p.campaignID, "kind", string(p.kind), "row", offset+i)
			continue
		}
		identified++
		if _, dup := p.seen[r.ContactID]; dup {
			continue
		}
		p.seen[r.ContactID] = struct{}{}
		out = append(out, r)
	}

	// A page of identified contacts that were all seen before means the
	// upstream is replaying pages.
	replayed := identified > 0 && len(out) == 0
	if lastPage(resp.Metadata, len(resp.Payload), p.pageSize) || replayed {
		p.done = true
	}
	return out, nil
}

func lastPage(meta ResponseMetadata, n, pageSize int) bool {
	if n == 0 || n < pageSize {
		return true
	}
	return meta.HasNext != nil && !*meta.HasNext
}
