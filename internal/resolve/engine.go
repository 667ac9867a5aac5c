// Package resolve links campaign recipients to demographic records using a
// fixed priority of matching strategies, falling back to a postal-code
// region.
package resolve

import (
	"context"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/engagement-sync/internal/demographic"
	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/geo"
	"github.com/ignite/engagement-sync/internal/normalize"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// DefaultFuzzyThreshold is the Sorensen-Dice score a fuzzy address match
// must exceed.
const DefaultFuzzyThreshold = 0.85

// Engine resolves recipients against a demographic index and a geographic
// index. Both are read-only, so one Engine serves any number of goroutines.
type Engine struct {
	demo      *demographic.Index
	geo       *geo.Index
	threshold float64
	metric    strutil.StringMetric
	log       *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFuzzyThreshold overrides DefaultFuzzyThreshold. Values outside (0,1]
// are ignored.
func WithFuzzyThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// NewEngine creates an engine. Either index may be nil: a nil demographic
// index leaves only the region fallback, a nil geo index leaves no fallback.
func NewEngine(demo *demographic.Index, geoIdx *geo.Index, opts ...Option) *Engine {
	dice := metrics.NewSorensenDice()
	dice.CaseSensitive = false
	dice.NgramSize = 2

	e := &Engine{
		demo:      demo,
		geo:       geoIdx,
		threshold: DefaultFuzzyThreshold,
		metric:    dice,
		log:       logger.With("component", "resolve"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve returns the first hit of: email, address, phone, partial
// address+phone on one record, fuzzy address, postal region. A recipient
// with none of these is unmatched.
func (e *Engine) Resolve(r domain.Recipient) domain.MatchResult {
	var res domain.MatchResult
	addrKey := normalize.Address(r.Address())
	phoneKey, phoneOK := normalize.Phone(r.Cell())
	if !phoneOK && r.Cell() != "" {
		res.Warnings = append(res.Warnings, warning(r, "cell", r.Cell(), "malformed phone"))
	}

	if e.demo != nil {
		if rec, ok := e.demo.ByEmail(normalize.Email(r.Email)); ok {
			return hit(res, domain.TierEmail, rec, 1)
		}
		if rec, ok := e.demo.ByAddress(addrKey); ok {
			return hit(res, domain.TierAddress, rec, 1)
		}
		if phoneOK {
			if rec, ok := e.demo.ByPhone(phoneKey); ok {
				return hit(res, domain.TierPhone, rec, 1)
			}
		}
		if key, ok := demographic.PartialKey(r.Address(), r.Cell()); ok {
			if rec, ok := e.demo.ByPartial(key); ok {
				return hit(res, domain.TierAddressPhone, rec, 1)
			}
		}
		if rec, score, ok := e.fuzzy(addrKey); ok {
			return hit(res, domain.TierFuzzyAddress, rec, score)
		}
	}

	postal := r.PostalCode()
	switch {
	case postal == "":
		res.Warnings = append(res.Warnings, warning(r, "postal_code", "", "missing postal code"))
	default:
		if _, ok := normalize.PostalCode(postal); !ok {
			res.Warnings = append(res.Warnings, warning(r, "postal_code", postal, "malformed postal code"))
			break
		}
		if e.geo == nil {
			break
		}
		if region, ok := e.geo.Lookup(postal); ok {
			res.Tier = domain.TierRegion
			res.Region = region
			return res
		}
		res.Warnings = append(res.Warnings, warning(r, "postal_code", postal, "unknown postal code"))
	}
	return res
}

// fuzzy compares key with the indexed addresses of the same house number.
// The best score must exceed the threshold and must not be shared.
func (e *Engine) fuzzy(key string) (*domain.DemographicRecord, float64, bool) {
	if key == "" {
		return nil, 0, false
	}
	best, bestScore, tied := -1, 0.0, false
	for _, cand := range e.demo.Candidates(key) {
		score := strutil.Similarity(key, cand.Key, e.metric)
		if score <= e.threshold {
			continue
		}
		switch {
		case score > bestScore:
			best, bestScore, tied = cand.Record, score, false
		case score == bestScore:
			tied = true
		}
	}
	if best < 0 || tied {
		return nil, 0, false
	}
	return e.demo.Record(best), bestScore, true
}

func hit(res domain.MatchResult, tier domain.MatchTier, rec *domain.DemographicRecord, score float64) domain.MatchResult {
	res.Tier = tier
	res.Record = rec
	res.Score = score
	return res
}

func warning(r domain.Recipient, field, value, reason string) domain.DataQualityWarning {
	return domain.DataQualityWarning{
		CampaignID: r.CampaignID,
		ContactID:  r.ContactID,
		Field:      field,
		Value:      value,
		Reason:     reason,
	}
}

// ResolveAll resolves every recipient with up to workers goroutines.
// Results are positional. Data quality warnings are logged here.
func (e *Engine) ResolveAll(ctx context.Context, recipients []domain.Recipient, workers int) ([]domain.MatchResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]domain.MatchResult, len(recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range recipients {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.Resolve(recipients[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tiers := make(map[string]int)
	for _, res := range results {
		tiers[res.Tier.String()]++
		for _, w := range res.Warnings {
			e.log.Warn("data quality warning",
				"campaign_id", w.CampaignID, "contact_id", w.ContactID, "field", w.Field, "reason", w.Reason)
		}
	}
	e.log.Info("resolution complete", "recipients", len(recipients), "tiers", tiers)
	return results, nil
}

// Warnings counts the data quality warnings across results.
func Warnings(results []domain.MatchResult) int {
	n := 0
	for _, res := range results {
		n += len(res.Warnings)
	}
	return n
}
