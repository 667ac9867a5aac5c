package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/config"
	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/geo"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "demographics.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"parcel_id,email,address,zip\n"+
			"P1,ann@example.com,1 Oak Court,43215\n"), 0o644))

	geoIdx, err := geo.Build(strings.NewReader("43201,Columbus\n"), "")
	require.NoError(t, err)
	geoPath := filepath.Join(dir, "geo.json")
	require.NoError(t, geoIdx.SaveFile(geoPath))

	cfg := &config.Config{}
	cfg.Demographics.Source = "csv"
	cfg.Demographics.CSVPath = csvPath
	cfg.Geo.ArtifactPath = geoPath
	cfg.Resolution.FuzzyThreshold = 0.85
	return cfg
}

func TestResolverFactory_CSVAndGeoFile(t *testing.T) {
	factory := ResolverFactory(testConfig(t))
	resolver, err := factory(context.Background())
	require.NoError(t, err)

	results, err := resolver.ResolveAll(context.Background(), []domain.Recipient{
		{CampaignID: "1", ContactID: "a", Email: "ANN@example.com"},
		{CampaignID: "1", ContactID: "b", Fields: map[string]string{"zip": "43201"}},
	}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.TierEmail, results[0].Tier)
	assert.Equal(t, "P1", results[0].Record.ParcelID)
	assert.Equal(t, domain.TierRegion, results[1].Tier)
	assert.Equal(t, "Columbus", results[1].Region)
}

func TestDemographicSource_RequiresCSVPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Demographics.Source = "csv"
	_, _, err := DemographicSource(cfg)
	assert.Error(t, err)
}

func TestLoadGeo_Unconfigured(t *testing.T) {
	idx, err := LoadGeo(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Type = "mysql"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
