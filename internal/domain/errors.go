package domain

import "fmt"

// FailureKind categorizes failures in a run summary.
type FailureKind string

const (
	FailureAuthentication FailureKind = "authentication"
	FailureRateLimited    FailureKind = "rate_limited"
	FailureUpstream       FailureKind = "upstream"
	FailureWrite          FailureKind = "write"
	FailureDataQuality    FailureKind = "data_quality"
	FailureExport         FailureKind = "export"
)

// WriteError reports a storage failure for one recipient (or one campaign
// when ContactID is empty). Upserts are idempotent, so the item is safe to
// retry on the next pass.
type WriteError struct {
	CampaignID string
	ContactID  string
	Err        error
}

func (e *WriteError) Error() string {
	if e.ContactID == "" {
		return fmt.Sprintf("write campaign %s: %v", e.CampaignID, e.Err)
	}
	return fmt.Sprintf("write recipient %s/%s: %v", e.CampaignID, e.ContactID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DataQualityWarning flags a recipient attribute that could not be used.
// It is logged and counted, never returned as an error.
type DataQualityWarning struct {
	CampaignID string `json:"campaign_id"`
	ContactID  string `json:"contact_id"`
	Field      string `json:"field"`
	Value      string `json:"value,omitempty"`
	Reason     string `json:"reason"`
}

func (w DataQualityWarning) String() string {
	return fmt.Sprintf("%s/%s %s: %s", w.CampaignID, w.ContactID, w.Field, w.Reason)
}

// BulkResult is the outcome of a bulk recipient upsert. Failed items are
// reported, never dropped silently.
type BulkResult struct {
	Upserted int
	Failed   []*WriteError
}

// Add folds other into r.
func (r *BulkResult) Add(other BulkResult) {
	r.Upserted += other.Upserted
	r.Failed = append(r.Failed, other.Failed...)
}
