// Package demographic builds the per-run in-memory lookup over demographic
// records. An Index is immutable once built and safe for concurrent reads.
package demographic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/normalize"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// Source yields every demographic record once per run.
type Source interface {
	LoadDemographics(ctx context.Context) ([]domain.DemographicRecord, error)
}

// AddressEntry is one normalized address in the index.
type AddressEntry struct {
	Key    string
	Record int
}

// Index is an arena of records plus lookup maps into it. When two records
// share a key the first one loaded keeps it.
type Index struct {
	records   []domain.DemographicRecord
	byEmail   map[string]int
	byAddress map[string]int
	byPhone   map[string]int
	byPartial map[string]int
	// addresses grouped by house number for fuzzy candidates
	buckets map[string][]AddressEntry

	Collisions int
}

// Build indexes records. Keys that normalize to nothing are skipped.
func Build(records []domain.DemographicRecord) *Index {
	idx := &Index{
		records:   records,
		byEmail:   make(map[string]int, len(records)),
		byAddress: make(map[string]int, len(records)),
		byPhone:   make(map[string]int, len(records)),
		byPartial: make(map[string]int),
		buckets:   make(map[string][]AddressEntry),
	}

	for i, rec := range records {
		if email := normalize.Email(rec.Email); email != "" {
			idx.put(idx.byEmail, email, i)
		}
		if addr := normalize.Address(rec.Address); addr != "" {
			if idx.put(idx.byAddress, addr, i) {
				b := Bucket(addr)
				idx.buckets[b] = append(idx.buckets[b], AddressEntry{Key: addr, Record: i})
			}
		}
		if phone, ok := normalize.Phone(rec.Mobile); ok {
			idx.put(idx.byPhone, phone, i)
		}
		if key, ok := PartialKey(rec.Address, rec.Mobile); ok {
			idx.put(idx.byPartial, key, i)
		}
	}

	for b := range idx.buckets {
		entries := idx.buckets[b]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	}
	return idx
}

func (idx *Index) put(m map[string]int, key string, i int) bool {
	if _, exists := m[key]; exists {
		idx.Collisions++
		return false
	}
	m[key] = i
	return true
}

// PartialKey combines the partial address and partial phone of one contact.
// Both must be present.
func PartialKey(address, phone string) (string, bool) {
	a, ok := normalize.PartialAddress(address)
	if !ok {
		return "", false
	}
	p, ok := normalize.PartialPhone(phone)
	if !ok {
		return "", false
	}
	return a + "|" + p, true
}

// Bucket returns the fuzzy-match bucket of a normalized address: its house
// number, or "" when it does not start with one.
func Bucket(normalizedAddress string) string {
	first := normalizedAddress
	for i, r := range normalizedAddress {
		if r == ' ' {
			first = normalizedAddress[:i]
			break
		}
	}
	for _, r := range first {
		if r >= '0' && r <= '9' {
			return first
		}
	}
	return ""
}

// Len returns the number of records in the arena.
func (idx *Index) Len() int { return len(idx.records) }

// Record returns the record at position i.
func (idx *Index) Record(i int) *domain.DemographicRecord { return &idx.records[i] }

func (idx *Index) lookup(m map[string]int, key string) (*domain.DemographicRecord, bool) {
	if key == "" {
		return nil, false
	}
	i, ok := m[key]
	if !ok {
		return nil, false
	}
	return &idx.records[i], true
}

// ByEmail looks up a normalized email.
func (idx *Index) ByEmail(email string) (*domain.DemographicRecord, bool) {
	return idx.lookup(idx.byEmail, email)
}

// ByAddress looks up a normalized address key.
func (idx *Index) ByAddress(key string) (*domain.DemographicRecord, bool) {
	return idx.lookup(idx.byAddress, key)
}

// ByPhone looks up a normalized ten-digit phone.
func (idx *Index) ByPhone(phone string) (*domain.DemographicRecord, bool) {
	return idx.lookup(idx.byPhone, phone)
}

// ByPartial looks up a PartialKey.
func (idx *Index) ByPartial(key string) (*domain.DemographicRecord, bool) {
	return idx.lookup(idx.byPartial, key)
}

// Candidates returns the indexed addresses sharing the bucket of key, in key
// order. The slice must not be modified.
func (idx *Index) Candidates(key string) []AddressEntry {
	return idx.buckets[Bucket(key)]
}

// Load reads every record from src and builds a fresh Index.
func Load(ctx context.Context, src Source) (*Index, error) {
	start := time.Now()
	records, err := src.LoadDemographics(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading demographic records: %w", err)
	}
	idx := Build(records)
	logger.With("component", "demographic").Info("demographic index built",
		"records", idx.Len(),
		"emails", len(idx.byEmail),
		"addresses", len(idx.byAddress),
		"phones", len(idx.byPhone),
		"collisions", idx.Collisions,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return idx, nil
}
