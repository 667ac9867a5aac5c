package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
)

// Counter holds the unique-recipient and total-event count for one
// engagement kind.
type Counter struct {
	Unique int64 `json:"unique"`
	Total  int64 `json:"total"`
}

// CampaignStats is the per-kind statistics block reported by the platform.
type CampaignStats struct {
	Sent         Counter `json:"sent"`
	Opened       Counter `json:"opened"`
	Clicked      Counter `json:"clicked"`
	Bounced      Counter `json:"bounced"`
	Complained   Counter `json:"complained"`
	Unsubscribed Counter `json:"unsubscribed"`
}

// Campaign is one mass-messaging campaign as observed on the platform.
// Re-fetching a campaign replaces its metadata wholesale.
type Campaign struct {
	ID        string         `json:"id" db:"campaign_id"`
	Name      string         `json:"name" db:"name"`
	Subject   string         `json:"subject" db:"subject"`
	FromName  string         `json:"from_name" db:"from_name"`
	FromEmail string         `json:"from_email" db:"from_email"`
	Status    CampaignStatus `json:"status" db:"status"`
	Stats     CampaignStats  `json:"stats" db:"stats"`

	CreatedAt *time.Time `json:"created_at" db:"created_at"`
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`

	// LastSyncedAt is bookkeeping owned by the store; upserts never touch it.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
}

// IsStale reports whether the campaign needs an incremental sync: it was
// never synced, or its last sync is older than threshold.
func (c *Campaign) IsStale(now time.Time, threshold time.Duration) bool {
	if c.LastSyncedAt == nil || c.LastSyncedAt.IsZero() {
		return true
	}
	return now.Sub(*c.LastSyncedAt) > threshold
}
