package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// SyncMode selects which campaigns a run touches.
type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncSingle      SyncMode = "single"
	SyncIncremental SyncMode = "incremental"
	SyncExportOnly  SyncMode = "export"
)

// ParseSyncMode maps a user-supplied mode name to a SyncMode.
func ParseSyncMode(s string) (SyncMode, bool) {
	switch SyncMode(s) {
	case SyncFull, SyncSingle, SyncIncremental, SyncExportOnly:
		return SyncMode(s), true
	case "export-only", "export_only":
		return SyncExportOnly, true
	}
	return "", false
}

// SyncRun is the summary of one run: what was processed and which
// failures were seen, per category. Partial success is always reported.
type SyncRun struct {
	ID                 string              `json:"id"`
	Mode               SyncMode            `json:"mode"`
	CampaignID         string              `json:"campaign_id,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	FinishedAt         *time.Time          `json:"finished_at,omitempty"`
	CampaignsProcessed int                 `json:"campaigns_processed"`
	CampaignsSkipped   int                 `json:"campaigns_skipped"`
	RecipientsUpserted int                 `json:"recipients_upserted"`
	FilesExported      int                 `json:"files_exported"`
	Failures           map[FailureKind]int `json:"failures"`
	Aborted            bool                `json:"aborted"`
	Error              string              `json:"error,omitempty"`
}

// AddFailure counts n failures of kind.
func (s *SyncRun) AddFailure(kind FailureKind, n int) {
	if n <= 0 {
		return
	}
	if s.Failures == nil {
		s.Failures = make(map[FailureKind]int)
	}
	s.Failures[kind] += n
}

// TotalFailures sums every failure category.
func (s *SyncRun) TotalFailures() int {
	total := 0
	for _, n := range s.Failures {
		total += n
	}
	return total
}
