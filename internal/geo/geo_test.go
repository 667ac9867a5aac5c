package geo

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `postal_code,region
43215,Columbus
43215,Rural Ohio
43201,Columbus
4501,Portland
44101-1234,Cleveland
bad,Nowhere
43230,
`

func TestBuild(t *testing.T) {
	idx, err := Build(strings.NewReader(sample), "Rural Ohio")
	require.NoError(t, err)

	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, []string{"Columbus", "Rural Ohio"}, idx.Ambiguous["43215"])
	assert.Equal(t, "Portland", idx.Regions["04501"])
	assert.Equal(t, "Cleveland", idx.Regions["44101"])
}

func TestLookup_AmbiguousExcludesLowConfidence(t *testing.T) {
	idx := &Index{
		Regions:       map[string]string{"10001": "Zeta"},
		Ambiguous:     map[string][]string{"10001": {"Alpha", "Zeta"}},
		LowConfidence: "Alpha",
	}

	region, ok := idx.Lookup("10001")
	require.True(t, ok)
	assert.Equal(t, "Zeta", region)

	// without the exclusion the sorted first candidate wins
	idx.LowConfidence = ""
	region, _ = idx.Lookup("10001-0001")
	assert.Equal(t, "Alpha", region)
}

func TestLookup_Unknown(t *testing.T) {
	idx, err := Build(strings.NewReader(sample), "")
	require.NoError(t, err)

	_, ok := idx.Lookup("")
	assert.False(t, ok)
	_, ok = idx.Lookup("99999")
	assert.False(t, ok)

	var nilIdx *Index
	_, ok = nilIdx.Lookup("43215")
	assert.False(t, ok)
}

func TestFileRoundTrip(t *testing.T) {
	idx, err := Build(strings.NewReader(sample), "Rural Ohio")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cache", "geo.json")
	require.NoError(t, idx.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	region, ok := loaded.Lookup("43215")
	require.True(t, ok)
	assert.Equal(t, "Columbus", region)
	assert.Equal(t, "Rural Ohio", loaded.LowConfidence)
}

type memStore map[string][]byte

func (m memStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	m[key] = append([]byte(nil), data...)
	return nil
}

func (m memStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func TestObjectRoundTrip(t *testing.T) {
	idx, err := Build(strings.NewReader(sample), "")
	require.NoError(t, err)

	store := memStore{}
	require.NoError(t, idx.SaveObject(context.Background(), store, DefaultObjectKey))
	assert.True(t, bytes.Contains(store[DefaultObjectKey], []byte(`"43201": "Columbus"`)))

	loaded, err := LoadObject(context.Background(), store, DefaultObjectKey)
	require.NoError(t, err)
	assert.Equal(t, idx.Regions, loaded.Regions)

	_, err = LoadObject(context.Background(), store, "other.json")
	assert.Error(t, err)
}
