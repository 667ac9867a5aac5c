package ongage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/normalize"
)

// FlexString is a string type that can unmarshal from both string and number JSON values
type FlexString string

// UnmarshalJSON implements json.Unmarshaler for FlexString
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}

	return fmt.Errorf("FlexString: cannot unmarshal %s", string(data))
}

// String returns the string value
func (f FlexString) String() string {
	return string(f)
}

// Int64 parses the value as an integer, returning 0 when it is not one.
func (f FlexString) Int64() int64 {
	s := strings.TrimSpace(string(f))
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(fl)
	}
	return 0
}

// Config holds Ongage API configuration
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	AccountCode string        `yaml:"account_code"`
	ListID      string        `yaml:"list_id"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"-"`
	MaxRetries  int           `yaml:"max_retries"`
}

// MaxPageSize is the largest page the platform serves.
const MaxPageSize = 100

// ClampPageSize bounds n to (0, MaxPageSize].
func ClampPageSize(n int) int {
	if n <= 0 || n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// ResponseMetadata contains error info from API responses
type ResponseMetadata struct {
	Error   bool       `json:"error"`
	Total   FlexString `json:"total,omitempty"`
	HasNext *bool      `json:"has_next,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ========== Campaign/Mailing Types ==========

// Campaign represents a mailing campaign from Ongage
type Campaign struct {
	ID               FlexString     `json:"id"`
	Name             string         `json:"name"`
	ListID           FlexString     `json:"list_id"`
	IsTest           FlexString     `json:"is_test"` // "0" or "1"
	Status           FlexString     `json:"status"`  // e.g., "60004"
	StatusDesc       string         `json:"status_desc"`
	Created          FlexString     `json:"created"`
	ScheduleDate     FlexString     `json:"schedule_date"`
	SendingStartDate FlexString     `json:"sending_start_date,omitempty"`
	SendingEndDate   FlexString     `json:"sending_end_date,omitempty"`
	FromName         string         `json:"from_name,omitempty"`
	FromAddress      string         `json:"from_address,omitempty"`
	EmailMessages    []EmailMessage `json:"email_message,omitempty"`
	Stats            *CampaignStats `json:"stats,omitempty"`
}

// EmailMessage represents an email message/creative
type EmailMessage struct {
	EmailMessageID FlexString `json:"email_message_id"`
	Name           string     `json:"name"`
	Subject        string     `json:"subject"`
	FromName       string     `json:"from_name,omitempty"`
	FromAddress    string     `json:"from_address,omitempty"`
}

// StatCounter is one unique/total pair in a campaign stats block.
type StatCounter struct {
	Unique FlexString `json:"unique"`
	Total  FlexString `json:"total"`
}

// CampaignStats is the per-kind statistics block of a mailing.
type CampaignStats struct {
	Sent         StatCounter `json:"sent"`
	Opened       StatCounter `json:"opened"`
	Clicked      StatCounter `json:"clicked"`
	Bounced      StatCounter `json:"bounced"`
	Complained   StatCounter `json:"complained"`
	Unsubscribed StatCounter `json:"unsubscribed"`
}

// CampaignListResponse is the response for GET /api/mailings
type CampaignListResponse struct {
	Metadata ResponseMetadata `json:"metadata"`
	Payload  []Campaign       `json:"payload"`
}

// CampaignDetailResponse is the response for GET /api/mailings/{id}
type CampaignDetailResponse struct {
	Metadata ResponseMetadata `json:"metadata"`
	Payload  Campaign         `json:"payload"`
}

// CampaignStatus constants
const (
	StatusNew                 = "60001"
	StatusScheduled           = "60002"
	StatusInProgress          = "60003"
	StatusCompleted           = "60004"
	StatusError               = "60005"
	StatusCancelled           = "60006"
	StatusDeleted             = "60007"
	StatusCompletedWithErrors = "60008"
	StatusOnHold              = "60009"
	StatusStopped             = "60010"
)

// StatusDescriptions maps status codes to human-readable descriptions
var StatusDescriptions = map[string]string{
	StatusNew:                 "New",
	StatusScheduled:           "Scheduled",
	StatusInProgress:          "In Progress",
	StatusCompleted:           "Completed",
	StatusError:               "Error",
	StatusCancelled:           "Cancelled",
	StatusDeleted:             "Deleted",
	StatusCompletedWithErrors: "Completed With Errors",
	StatusOnHold:              "On Hold",
	StatusStopped:             "Stopped",
}

// GetStatusDescription returns the human-readable status description
func GetStatusDescription(statusCode string) string {
	if desc, ok := StatusDescriptions[statusCode]; ok {
		return desc
	}
	return "Unknown"
}

// LifecycleStatus folds the platform status codes into the four lifecycle
// states the pipeline tracks.
func LifecycleStatus(code string) domain.CampaignStatus {
	switch code {
	case StatusScheduled, StatusOnHold:
		return domain.CampaignScheduled
	case StatusInProgress:
		return domain.CampaignSending
	case StatusCompleted, StatusCompletedWithErrors, StatusStopped:
		return domain.CampaignSent
	default:
		return domain.CampaignDraft
	}
}

// ParseUnixTimestamp parses the platform's timestamp strings, which are
// either unix seconds or "2006-01-02 15:04:05".
func ParseUnixTimestamp(ts string) (time.Time, error) {
	if ts == "" || ts == "0" {
		return time.Time{}, nil
	}

	unixTime, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Parse("2006-01-02 15:04:05", ts)
	}

	return time.Unix(unixTime, 0).UTC(), nil
}

func timePtr(ts FlexString) *time.Time {
	t, err := ParseUnixTimestamp(strings.TrimSpace(ts.String()))
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}

func (s StatCounter) toDomain() domain.Counter {
	return domain.Counter{Unique: s.Unique.Int64(), Total: s.Total.Int64()}
}

// ToDomain converts the wire campaign into the pipeline's Campaign.
func (c Campaign) ToDomain() domain.Campaign {
	out := domain.Campaign{
		ID:        c.ID.String(),
		Name:      c.Name,
		FromName:  c.FromName,
		FromEmail: c.FromAddress,
		Status:    LifecycleStatus(c.Status.String()),
		CreatedAt: timePtr(c.Created),
	}
	if len(c.EmailMessages) > 0 {
		msg := c.EmailMessages[0]
		out.Subject = msg.Subject
		if out.FromName == "" {
			out.FromName = msg.FromName
		}
		if out.FromEmail == "" {
			out.FromEmail = msg.FromAddress
		}
	}
	out.SentAt = timePtr(c.SendingStartDate)
	if out.SentAt == nil && out.Status == domain.CampaignSent {
		out.SentAt = timePtr(c.ScheduleDate)
	}
	if c.Stats != nil {
		out.Stats = domain.CampaignStats{
			Sent:         c.Stats.Sent.toDomain(),
			Opened:       c.Stats.Opened.toDomain(),
			Clicked:      c.Stats.Clicked.toDomain(),
			Bounced:      c.Stats.Bounced.toDomain(),
			Complained:   c.Stats.Complained.toDomain(),
			Unsubscribed: c.Stats.Unsubscribed.toDomain(),
		}
	}
	return out
}

// ========== Report Types ==========

// ReportContact is one row of a per-campaign engagement report.
type ReportContact struct {
	ContactID FlexString            `json:"contact_id"`
	Email     string                `json:"email"`
	Status    string                `json:"status,omitempty"`
	Fields    map[string]FlexString `json:"fields,omitempty"`
}

// ReportResponse is the response for GET /api/mailings/{id}/reports/{kind}
type ReportResponse struct {
	Metadata ResponseMetadata `json:"metadata"`
	Payload  []ReportContact  `json:"payload"`
}

// ToRecipient converts a report row into a partial recipient carrying only
// the engagement signal of the report it came from.
func (rc ReportContact) ToRecipient(campaignID string, kind domain.ReportKind) domain.Recipient {
	r := domain.Recipient{
		CampaignID: campaignID,
		ContactID:  strings.TrimSpace(rc.ContactID.String()),
		Email:      strings.TrimSpace(rc.Email),
		Status:     strings.TrimSpace(rc.Status),
		Engagement: domain.EngagementFor(kind),
	}
	// older accounts omit contact_id; the email is the only stable handle then
	if r.ContactID == "" {
		r.ContactID = normalize.Email(rc.Email)
	}
	if len(rc.Fields) > 0 {
		r.Fields = make(map[string]string, len(rc.Fields))
		for k, v := range rc.Fields {
			r.Fields[k] = v.String()
		}
	}
	return r
}
