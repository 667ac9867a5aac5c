// Package geo maps postal codes to regions. The index is built once by an
// explicit maintenance step and read many times; sync never rebuilds it.
package geo

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ignite/engagement-sync/internal/normalize"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// Index is the serialized geographic artifact.
type Index struct {
	Regions       map[string]string   `json:"regions"`
	Ambiguous     map[string][]string `json:"ambiguous"`
	LowConfidence string              `json:"low_confidence_region,omitempty"`
	BuiltAt       time.Time           `json:"built_at"`
}

// Lookup resolves a raw postal code to one region. Ambiguous codes drop the
// low-confidence region and take the first remaining candidate in sorted
// order.
func (idx *Index) Lookup(raw string) (string, bool) {
	if idx == nil {
		return "", false
	}
	zip, ok := normalize.PostalCode(raw)
	if !ok {
		return "", false
	}
	if candidates, ok := idx.Ambiguous[zip]; ok {
		if region := pick(candidates, idx.LowConfidence); region != "" {
			return region, true
		}
	}
	region, ok := idx.Regions[zip]
	return region, ok && region != ""
}

func pick(candidates []string, lowConfidence string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if len(sorted) > 1 && strings.EqualFold(c, lowConfidence) {
			continue
		}
		return c
	}
	return ""
}

// Len returns the number of postal codes covered.
func (idx *Index) Len() int { return len(idx.Regions) }

// Build reads postal_code,region rows (header optional) and produces an
// Index. A postal code seen with more than one region goes to the
// ambiguous side table.
func Build(r io.Reader, lowConfidence string) (*Index, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	seen := make(map[string]map[string]struct{})
	skipped := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read geo csv: %w", err)
		}
		if len(row) < 2 {
			skipped++
			continue
		}
		zip, ok := normalize.PostalCode(row[0])
		region := strings.TrimSpace(row[1])
		if !ok || region == "" {
			skipped++
			continue
		}
		if seen[zip] == nil {
			seen[zip] = make(map[string]struct{})
		}
		seen[zip][region] = struct{}{}
	}

	idx := &Index{
		Regions:       make(map[string]string, len(seen)),
		Ambiguous:     make(map[string][]string),
		LowConfidence: lowConfidence,
		BuiltAt:       time.Now().UTC(),
	}
	for zip, set := range seen {
		regions := make([]string, 0, len(set))
		for region := range set {
			regions = append(regions, region)
		}
		sort.Strings(regions)
		if len(regions) > 1 {
			idx.Ambiguous[zip] = regions
		}
		idx.Regions[zip] = pick(regions, lowConfidence)
	}

	logger.With("component", "geo").Info("geo index built",
		"postal_codes", len(idx.Regions), "ambiguous", len(idx.Ambiguous), "skipped_rows", skipped)
	return idx, nil
}

// Encode writes the artifact as indented JSON.
func (idx *Index) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(idx)
}

// Decode reads an artifact written by Encode.
func Decode(r io.Reader) (*Index, error) {
	var idx Index
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decode geo artifact: %w", err)
	}
	if idx.Regions == nil {
		idx.Regions = map[string]string{}
	}
	return &idx, nil
}

// LoadFile reads the artifact from disk.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo artifact: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// SaveFile writes the artifact to disk, replacing it atomically.
func (idx *Index) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create geo artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".geo-*.json")
	if err != nil {
		return fmt.Errorf("create temp geo artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := idx.Encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write geo artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ObjectStore is the object storage the artifact can live in.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// DefaultObjectKey is used when no key is configured.
const DefaultObjectKey = "geo/postal_regions.json"

// LoadObject reads the artifact from object storage.
func LoadObject(ctx context.Context, store ObjectStore, key string) (*Index, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch geo artifact %s: %w", key, err)
	}
	return Decode(strings.NewReader(string(data)))
}

// SaveObject uploads the artifact to object storage.
func (idx *Index) SaveObject(ctx context.Context, store ObjectStore, key string) error {
	var b strings.Builder
	if err := idx.Encode(&b); err != nil {
		return err
	}
	return store.Put(ctx, key, "application/json", []byte(b.String()))
}
