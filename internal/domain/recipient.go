package domain

import (
	"sort"
	"strings"
)

// ReportKind is one category of engagement event exposed by the platform as
// its own paginated report.
type ReportKind string

const (
	ReportSent         ReportKind = "sent"
	ReportOpened       ReportKind = "opened"
	ReportClicked      ReportKind = "clicked"
	ReportBounced      ReportKind = "bounced"
	ReportComplained   ReportKind = "complained"
	ReportUnsubscribed ReportKind = "unsubscribed"
)

// ReportKinds lists every report kind in increasing order of positivity.
// Processing in this order lets accumulation converge in one pass.
var ReportKinds = []ReportKind{
	ReportSent,
	ReportOpened,
	ReportClicked,
	ReportBounced,
	ReportComplained,
	ReportUnsubscribed,
}

// ParseReportKind returns the kind named by s and whether it is known.
func ParseReportKind(s string) (ReportKind, bool) {
	k := ReportKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ReportKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Engagement is the five-flag record of how a recipient responded to one
// campaign. A flag only ever moves from false to true.
type Engagement struct {
	Opened       bool `json:"opened" db:"opened"`
	Clicked      bool `json:"clicked" db:"clicked"`
	Bounced      bool `json:"bounced" db:"bounced"`
	Complained   bool `json:"complained" db:"complained"`
	Unsubscribed bool `json:"unsubscribed" db:"unsubscribed"`
}

// EngagementFor returns the vector observed by one report of the given kind:
// exactly that flag set, everything else false. The sent report carries no
// positive signal.
func EngagementFor(kind ReportKind) Engagement {
	var e Engagement
	switch kind {
	case ReportOpened:
		e.Opened = true
	case ReportClicked:
		e.Clicked = true
	case ReportBounced:
		e.Bounced = true
	case ReportComplained:
		e.Complained = true
	case ReportUnsubscribed:
		e.Unsubscribed = true
	}
	return e
}

// Merge returns the flag-wise OR of e and other.
func (e Engagement) Merge(other Engagement) Engagement {
	return Engagement{
		Opened:       e.Opened || other.Opened,
		Clicked:      e.Clicked || other.Clicked,
		Bounced:      e.Bounced || other.Bounced,
		Complained:   e.Complained || other.Complained,
		Unsubscribed: e.Unsubscribed || other.Unsubscribed,
	}
}

// Flags returns the five flags in export column order.
func (e Engagement) Flags() [5]bool {
	return [5]bool{e.Opened, e.Clicked, e.Bounced, e.Complained, e.Unsubscribed}
}

// RecipientKey is the composite identity of a recipient.
type RecipientKey struct {
	CampaignID string
	ContactID  string
}

// Recipient is one contact within one campaign. Descriptive fields hold the
// latest observation; Engagement accumulates across passes.
type Recipient struct {
	CampaignID string            `json:"campaign_id" db:"campaign_id"`
	ContactID  string            `json:"contact_id" db:"contact_id"`
	Email      string            `json:"email" db:"email"`
	Status     string            `json:"subscription_status" db:"subscription_status"`
	Fields     map[string]string `json:"custom_fields" db:"custom_fields"`
	Engagement Engagement        `json:"engagement"`
}

// Key returns the composite identity of r.
func (r Recipient) Key() RecipientKey {
	return RecipientKey{CampaignID: r.CampaignID, ContactID: r.ContactID}
}

// MergeRecipient applies an incoming partial observation to the stored
// state. Descriptive fields the partial carries replace the stored ones;
// empty descriptive fields mean "no information" and keep the stored value.
// Engagement flags are OR-ed so a true flag is never written back to false.
func MergeRecipient(stored, incoming Recipient) Recipient {
	out := stored
	if out.CampaignID == "" {
		out.CampaignID = incoming.CampaignID
	}
	if out.ContactID == "" {
		out.ContactID = incoming.ContactID
	}
	if incoming.Email != "" {
		out.Email = incoming.Email
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if len(incoming.Fields) > 0 {
		out.Fields = make(map[string]string, len(incoming.Fields))
		for k, v := range incoming.Fields {
			out.Fields[k] = v
		}
	}
	out.Engagement = stored.Engagement.Merge(incoming.Engagement)
	return out
}

// CoalesceRecipients folds items sharing a key into one with
// MergeRecipient, keeping first-seen order. The result is the same as
// applying the items one at a time.
func CoalesceRecipients(items []Recipient) []Recipient {
	index := make(map[RecipientKey]int, len(items))
	out := make([]Recipient, 0, len(items))
	for _, item := range items {
		k := item.Key()
		if i, ok := index[k]; ok {
			out[i] = MergeRecipient(out[i], item)
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// Well-known custom field aliases, matched case-insensitively in order.
var (
	AddressFieldAliases    = []string{"address", "address1", "addr", "street", "mailing_address"}
	CityFieldAliases       = []string{"city", "town"}
	PostalCodeFieldAliases = []string{"zip", "zipcode", "zip_code", "postal_code", "postcode"}
	CellFieldAliases       = []string{"cell", "mobile", "cell_phone", "phone"}
	UsageFieldAliases      = []string{"annual_usage", "usage", "kwh"}
	CostFieldAliases       = []string{"annual_cost", "cost", "bill"}
)

// Field returns the value of the first custom field matching one of aliases.
// When several keys differ only in case the lexically smallest key wins, so
// the lookup is deterministic.
func (r Recipient) Field(aliases ...string) string {
	if len(r.Fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, alias := range aliases {
		for _, k := range keys {
			if strings.EqualFold(k, alias) {
				if v := strings.TrimSpace(r.Fields[k]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func (r Recipient) Address() string    { return r.Field(AddressFieldAliases...) }
func (r Recipient) City() string       { return r.Field(CityFieldAliases...) }
func (r Recipient) PostalCode() string { return r.Field(PostalCodeFieldAliases...) }
func (r Recipient) Cell() string       { return r.Field(CellFieldAliases...) }
func (r Recipient) AnnualUsage() string {
	return r.Field(UsageFieldAliases...)
}
func (r Recipient) AnnualCost() string {
	return r.Field(CostFieldAliases...)
}
