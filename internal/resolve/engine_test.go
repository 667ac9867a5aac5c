package resolve

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/demographic"
	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/geo"
)

func testDemographics() *demographic.Index {
	return demographic.Build([]domain.DemographicRecord{
		{ParcelID: "A", Email: "ann@example.com", Address: "1 Oak Court"},
		{ParcelID: "B", Email: "bob@example.com", Address: "123 Main Street"},
		{ParcelID: "C", Address: "500 Pine Road", Mobile: "614-555-1234"},
		{ParcelID: "D", Address: "88 Birch Lane Unit 4", Mobile: "740-555-7777"},
		{ParcelID: "E", Address: "4521 Riverside Drive"},
		{ParcelID: "F", Address: "12 Elm St E"},
		{ParcelID: "G", Address: "12 Elm St W"},
	})
}

func testGeo(t *testing.T) *geo.Index {
	t.Helper()
	idx, err := geo.Build(strings.NewReader("43215,Columbus\n43215,Rural\n43201,Columbus\n"), "Rural")
	require.NoError(t, err)
	return idx
}

func recipient(fields map[string]string, email string) domain.Recipient {
	return domain.Recipient{CampaignID: "1", ContactID: "c1", Email: email, Fields: fields}
}

func TestResolve_EmailBeatsAddress(t *testing.T) {
	e := NewEngine(testDemographics(), testGeo(t))

	res := e.Resolve(recipient(map[string]string{"address": "123 Main St"}, "ANN@example.com"))
	require.True(t, res.Matched())
	assert.Equal(t, domain.TierEmail, res.Tier)
	assert.Equal(t, "A", res.Record.ParcelID)
}

func TestResolve_Tiers(t *testing.T) {
	e := NewEngine(testDemographics(), testGeo(t))

	tests := []struct {
		name   string
		fields map[string]string
		email  string
		tier   domain.MatchTier
		parcel string
	}{
		{"address", map[string]string{"Address": "123 main st."}, "nobody@example.com", domain.TierAddress, "B"},
		{"phone", map[string]string{"cell": "+1 (614) 555-1234"}, "", domain.TierPhone, "C"},
		{"partial address and phone", map[string]string{"address": "88 Birch Ln", "mobile": "555-7777"}, "", domain.TierAddressPhone, "D"},
		{"fuzzy address", map[string]string{"address": "4521 Riversde Dr"}, "", domain.TierFuzzyAddress, "E"},
		{"region", map[string]string{"address": "9 Nowhere", "zip": "43201"}, "", domain.TierRegion, ""},
		{"unmatched", map[string]string{"address": "9 Nowhere", "zip": "99999"}, "", domain.TierNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Resolve(recipient(tt.fields, tt.email))
			assert.Equal(t, tt.tier, res.Tier)
			if tt.parcel == "" {
				assert.Nil(t, res.Record)
				return
			}
			require.NotNil(t, res.Record)
			assert.Equal(t, tt.parcel, res.Record.ParcelID)
		})
	}
}

func TestResolve_PartialPhoneAloneIsNotEnough(t *testing.T) {
	e := NewEngine(testDemographics(), nil)
	res := e.Resolve(recipient(map[string]string{"address": "90 Birch Ln", "mobile": "555-7777"}, ""))
	assert.False(t, res.Matched())
}

func TestResolve_FuzzyTieIsRejected(t *testing.T) {
	e := NewEngine(testDemographics(), nil)

	res := e.Resolve(recipient(map[string]string{"address": "12 Elm Street"}, ""))
	assert.False(t, res.Matched(), "equidistant candidates must not match")

	single := NewEngine(demographic.Build([]domain.DemographicRecord{{ParcelID: "F", Address: "12 Elm St E"}}), nil)
	res = single.Resolve(recipient(map[string]string{"address": "12 Elm Street"}, ""))
	require.True(t, res.Matched())
	assert.Equal(t, domain.TierFuzzyAddress, res.Tier)
	assert.Greater(t, res.Score, DefaultFuzzyThreshold)
}

func TestResolve_FuzzyThreshold(t *testing.T) {
	e := NewEngine(testDemographics(), nil, WithFuzzyThreshold(0.95))
	res := e.Resolve(recipient(map[string]string{"address": "4521 Riversde Dr"}, ""))
	assert.False(t, res.Matched())
}

func TestResolve_AmbiguousPostalSkipsLowConfidence(t *testing.T) {
	e := NewEngine(testDemographics(), testGeo(t))

	res := e.Resolve(recipient(map[string]string{"zip": "43215-0001"}, ""))
	assert.Equal(t, domain.TierRegion, res.Tier)
	assert.Equal(t, "Columbus", res.Region)
}

func TestResolve_DataQualityWarnings(t *testing.T) {
	e := NewEngine(testDemographics(), testGeo(t))

	res := e.Resolve(recipient(map[string]string{"cell": "555-12", "zip": "abc"}, ""))
	assert.Equal(t, domain.TierNone, res.Tier)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "malformed phone", res.Warnings[0].Reason)
	assert.Equal(t, "malformed postal code", res.Warnings[1].Reason)

	res = e.Resolve(recipient(nil, ""))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "missing postal code", res.Warnings[0].Reason)
}

func TestResolveAll_Positional(t *testing.T) {
	e := NewEngine(testDemographics(), testGeo(t))

	var rs []domain.Recipient
	for i := 0; i < 50; i++ {
		r := recipient(map[string]string{"zip": "43201"}, "")
		r.ContactID = fmt.Sprintf("c%d", i)
		if i%2 == 0 {
			r.Email = "bob@example.com"
		}
		rs = append(rs, r)
	}

	results, err := e.ResolveAll(context.Background(), rs, 4)
	require.NoError(t, err)
	require.Len(t, results, 50)
	for i, res := range results {
		if i%2 == 0 {
			assert.Equal(t, domain.TierEmail, res.Tier, i)
		} else {
			assert.Equal(t, domain.TierRegion, res.Tier, i)
		}
	}
	assert.Equal(t, 0, Warnings(results))
}

func TestResolveAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(testDemographics(), nil).ResolveAll(ctx, []domain.Recipient{recipient(nil, "")}, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_NoGeoIndex(t *testing.T) {
	e := NewEngine(testDemographics(), nil)
	res := e.Resolve(recipient(map[string]string{"zip": "43201"}, ""))
	assert.Equal(t, domain.TierNone, res.Tier)
	assert.Empty(t, res.Warnings)

	withGeo := NewEngine(testDemographics(), testGeo(t))
	res = withGeo.Resolve(recipient(map[string]string{"zip": "99999"}, ""))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "unknown postal code", res.Warnings[0].Reason)
}
