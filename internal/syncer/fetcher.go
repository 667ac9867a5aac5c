package syncer

import (
	"context"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/ongage"
)

// CampaignPager yields campaigns page by page. A failed NextPage may be
// called again and re-requests the same page.
type CampaignPager interface {
	HasMorePages() bool
	NextPage(ctx context.Context) ([]domain.Campaign, error)
}

// RecipientPager yields the partial recipients of one report kind.
type RecipientPager interface {
	HasMorePages() bool
	NextPage(ctx context.Context) ([]domain.Recipient, error)
}

// Fetcher is the campaign platform as seen by the syncer.
type Fetcher interface {
	Campaigns(pageSize int) CampaignPager
	Campaign(ctx context.Context, id string) (domain.Campaign, error)
	Report(campaignID string, kind domain.ReportKind, pageSize int) RecipientPager
}

type ongageFetcher struct {
	client *ongage.Client
}

// NewOngageFetcher adapts an Ongage client to Fetcher.
func NewOngageFetcher(client *ongage.Client) Fetcher {
	return ongageFetcher{client: client}
}

func (f ongageFetcher) Campaigns(pageSize int) CampaignPager {
	return f.client.ListCampaigns(pageSize)
}

func (f ongageFetcher) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	return f.client.GetCampaign(ctx, id)
}

func (f ongageFetcher) Report(campaignID string, kind domain.ReportKind, pageSize int) RecipientPager {
	return f.client.FetchReport(campaignID, kind, pageSize)
}
