package domain

// DemographicRecord is one externally sourced household/account record.
// The pipeline only reads these.
type DemographicRecord struct {
	ParcelID        string   `json:"parcel_id" db:"parcel_id"`
	CustomerName    string   `json:"customer_name" db:"customer_name"`
	Email           string   `json:"email" db:"email"`
	Address         string   `json:"address" db:"address"`
	Mobile          string   `json:"mobile" db:"mobile"`
	PostalCode      string   `json:"postal_code" db:"postal_code"`
	EstimatedIncome *float64 `json:"estimated_income" db:"estimated_income"`
	EnergyBurden    *float64 `json:"energy_burden" db:"energy_burden"`
	ElectricBurden  *float64 `json:"electric_burden" db:"electric_burden"`
	GasBurden       *float64 `json:"gas_burden" db:"gas_burden"`
}

// MatchTier names the strategy that produced a match. Lower tiers win.
type MatchTier int

const (
	TierNone MatchTier = iota
	TierEmail
	TierAddress
	TierPhone
	TierAddressPhone
	TierFuzzyAddress
	TierRegion
)

var tierNames = map[MatchTier]string{
	TierNone:         "unmatched",
	TierEmail:        "email",
	TierAddress:      "address",
	TierPhone:        "phone",
	TierAddressPhone: "address_phone",
	TierFuzzyAddress: "fuzzy_address",
	TierRegion:       "region",
}

func (t MatchTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// MatchResult is the ephemeral outcome of identity resolution for one
// recipient: a demographic record (tiers email..fuzzy_address), a region
// only (tier region) or nothing (tier none).
type MatchResult struct {
	Tier     MatchTier
	Record   *DemographicRecord
	Region   string
	Score    float64
	Warnings []DataQualityWarning
}

// Matched reports whether a demographic record was found.
func (m MatchResult) Matched() bool { return m.Record != nil }
