// Package syncer drives sync runs: it pulls campaigns and their engagement
// reports from the platform, merges them into the store and optionally
// resolves and materializes the result.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/ongage"
	"github.com/ignite/engagement-sync/internal/pkg/distlock"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = errors.New("syncer: a sync run is already in progress")

// DefaultLockKey names the run lock.
const DefaultLockKey = "engagement-sync:run"

// Store is the durable store a run reads and writes.
type Store interface {
	UpsertCampaign(ctx context.Context, c domain.Campaign) error
	UpsertRecipients(ctx context.Context, items []domain.Recipient) (domain.BulkResult, error)
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error)
	LastSynced(ctx context.Context, ids []string) (map[string]time.Time, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
	RecordRun(ctx context.Context, run domain.SyncRun) error
	LatestRun(ctx context.Context) (domain.SyncRun, error)
}

// Resolver resolves recipients positionally.
type Resolver interface {
	ResolveAll(ctx context.Context, recipients []domain.Recipient, workers int) ([]domain.MatchResult, error)
}

// ResolverFactory builds a Resolver for one run, loading the demographic
// index fresh each time.
type ResolverFactory func(ctx context.Context) (Resolver, error)

// Exporter materializes one campaign. A nil matches means resolution was
// not requested.
type Exporter interface {
	WriteFile(ctx context.Context, c domain.Campaign, recipients []domain.Recipient, matches []domain.MatchResult) (string, error)
}

// Config tunes a Syncer. Zero values take the defaults noted.
type Config struct {
	PageSize             int           // 100
	IncrementalThreshold time.Duration // 24h
	Workers              int           // 1
	UpstreamAttempts     int           // 3
	RetryBackoff         time.Duration // 2s, multiplied by the attempt number
	MaxRateLimitWait     time.Duration // 2m per page
	LockKey              string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = ongage.MaxPageSize
	}
	c.PageSize = ongage.ClampPageSize(c.PageSize)
	if c.IncrementalThreshold <= 0 {
		c.IncrementalThreshold = 24 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.UpstreamAttempts <= 0 {
		c.UpstreamAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.MaxRateLimitWait <= 0 {
		c.MaxRateLimitWait = 2 * time.Minute
	}
	if c.LockKey == "" {
		c.LockKey = DefaultLockKey
	}
	return c
}

// Request describes one run.
type Request struct {
	Mode       domain.SyncMode `json:"mode"`
	CampaignID string          `json:"campaign_id,omitempty"`
	Resolve    bool            `json:"resolve"`
	Export     bool            `json:"export"`
}

// Validate checks the mode and its arguments.
func (r Request) Validate() error {
	if _, ok := domain.ParseSyncMode(string(r.Mode)); !ok {
		return fmt.Errorf("unknown sync mode %q", r.Mode)
	}
	if r.Mode == domain.SyncSingle && r.CampaignID == "" {
		return errors.New("single mode requires a campaign id")
	}
	if r.Resolve && !r.Exports() {
		return errors.New("resolution requires export")
	}
	return nil
}

// Exports reports whether the run materializes files.
func (r Request) Exports() bool {
	return r.Export || r.Mode == domain.SyncExportOnly
}

// Syncer runs sync passes. It is safe to call Run concurrently; the run
// lock, when configured, lets only one proceed.
type Syncer struct {
	fetcher  Fetcher
	store    Store
	cfg      Config
	locks    distlock.Factory
	resolver ResolverFactory
	exporter Exporter
	log      *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLock guards every run with a lock from factory.
func WithLock(factory distlock.Factory) Option {
	return func(s *Syncer) { s.locks = factory }
}

// WithResolver enables identity resolution for runs that request it.
func WithResolver(f ResolverFactory) Option {
	return func(s *Syncer) { s.resolver = f }
}

// WithExporter enables materialization.
func WithExporter(e Exporter) Option {
	return func(s *Syncer) { s.exporter = e }
}

// New creates a Syncer.
func New(fetcher Fetcher, store Store, cfg Config, opts ...Option) *Syncer {
	s := &Syncer{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     logger.With("component", "syncer"),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes one sync run and returns its summary. The summary is
// returned, and recorded, even when the run fails part way.
func (s *Syncer) Run(ctx context.Context, req Request) (domain.SyncRun, error) {
	if req.Mode == "" {
		req.Mode = domain.SyncFull
	}
	if mode, ok := domain.ParseSyncMode(string(req.Mode)); ok {
		req.Mode = mode
	}
	if err := req.Validate(); err != nil {
		return domain.SyncRun{}, err
	}
	if req.Exports() && s.exporter == nil {
		return domain.SyncRun{}, errors.New("export requested but no exporter configured")
	}
	if req.Resolve && s.resolver == nil {
		return domain.SyncRun{}, errors.New("resolution requested but no resolver configured")
	}

	run := domain.SyncRun{
		ID:         uuid.NewString(),
		Mode:       req.Mode,
		CampaignID: req.CampaignID,
		StartedAt:  s.now().UTC(),
	}

	if s.locks == nil {
		err := s.execute(ctx, req, &run)
		return run, err
	}
	err := distlock.Run(ctx, s.locks(s.cfg.LockKey), func(ctx context.Context) error {
		return s.execute(ctx, req, &run)
	})
	if errors.Is(err, distlock.ErrLockHeld) {
		return domain.SyncRun{}, ErrRunInProgress
	}
	return run, err
}

func (s *Syncer) execute(ctx context.Context, req Request, run *domain.SyncRun) error {
	log := s.log.With("run_id", run.ID, "mode", string(run.Mode))
	log.Info("sync run started", "campaign_id", req.CampaignID, "resolve", req.Resolve, "export", req.Export)
	s.record(ctx, *run)

	err := s.dispatch(ctx, req, run, log)
	if err != nil {
		run.Aborted = true
		run.Error = err.Error()
		if ongage.IsAuthentication(err) {
			run.AddFailure(domain.FailureAuthentication, 1)
		}
	}
	finished := s.now().UTC()
	run.FinishedAt = &finished
	s.record(ctx, *run)

	log.Info("sync run finished",
		"campaigns_processed", run.CampaignsProcessed,
		"campaigns_skipped", run.CampaignsSkipped,
		"recipients_upserted", run.RecipientsUpserted,
		"files_exported", run.FilesExported,
		"failures", run.TotalFailures(),
		"aborted", run.Aborted,
		"duration_ms", finished.Sub(run.StartedAt).Milliseconds(),
	)
	return err
}

// record writes the run ledger entry. It survives cancellation of ctx so an
// interrupted run is still recorded.
func (s *Syncer) record(ctx context.Context, run domain.SyncRun) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.RecordRun(ctx, run); err != nil {
		s.log.Error("failed to record sync run", "run_id", run.ID, "error", err)
	}
}

func (s *Syncer) dispatch(ctx context.Context, req Request, run *domain.SyncRun, log *logger.Logger) error {
	var resolver Resolver
	if req.Resolve {
		r, err := s.resolver(ctx)
		if err != nil {
			return fmt.Errorf("building resolver: %w", err)
		}
		resolver = r
	}

	var campaigns []domain.Campaign
	switch req.Mode {
	case domain.SyncExportOnly:
		stored, err := s.storedCampaigns(ctx, req.CampaignID)
		if err != nil {
			return err
		}
		return s.forEach(ctx, stored, run, func(ctx context.Context, c domain.Campaign, acc *tally) error {
			s.materialize(ctx, c, resolver, acc, log)
			return nil
		})

	case domain.SyncSingle:
		var c domain.Campaign
		err := s.retry(ctx, func(ctx context.Context) error {
			var ferr error
			c, ferr = s.fetcher.Campaign(ctx, req.CampaignID)
			return ferr
		})
		if err != nil {
			return fmt.Errorf("fetching campaign %s: %w", req.CampaignID, err)
		}
		campaigns = []domain.Campaign{c}

	case domain.SyncFull, domain.SyncIncremental:
		all, err := s.listCampaigns(ctx)
		if err != nil {
			return fmt.Errorf("listing campaigns: %w", err)
		}
		campaigns = all
		if req.Mode == domain.SyncIncremental {
			campaigns, err = s.stale(ctx, all)
			if err != nil {
				return err
			}
			run.CampaignsSkipped = len(all) - len(campaigns)
		}
	}

	return s.forEach(ctx, campaigns, run, func(ctx context.Context, c domain.Campaign, acc *tally) error {
		if err := s.syncCampaign(ctx, c, acc, log); err != nil {
			return err
		}
		if req.Export && !acc.skipped {
			s.materialize(ctx, c, resolver, acc, log)
		}
		return nil
	})
}

// tally is the per-campaign contribution to the run summary.
type tally struct {
	skipped  bool
	upserted int
	exported int
	failures map[domain.FailureKind]int
}

func (t *tally) fail(kind domain.FailureKind, n int) {
	if t.failures == nil {
		t.failures = make(map[domain.FailureKind]int)
	}
	t.failures[kind] += n
}

// forEach processes campaigns on up to cfg.Workers goroutines. Each campaign
// is handled by exactly one goroutine, so writes to one recipient key never
// race. A non-nil error from fn stops the remaining campaigns.
func (s *Syncer) forEach(ctx context.Context, campaigns []domain.Campaign, run *domain.SyncRun,
	fn func(ctx context.Context, c domain.Campaign, acc *tally) error) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for _, c := range campaigns {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var acc tally
			err := fn(gctx, c, &acc)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
			case acc.skipped:
				run.CampaignsSkipped++
			default:
				run.CampaignsProcessed++
			}
			run.RecipientsUpserted += acc.upserted
			run.FilesExported += acc.exported
			for kind, n := range acc.failures {
				run.AddFailure(kind, n)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Syncer) storedCampaigns(ctx context.Context, id string) ([]domain.Campaign, error) {
	if id == "" {
		campaigns, err := s.store.ListCampaigns(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing stored campaigns: %w", err)
		}
		return campaigns, nil
	}
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading campaign %s: %w", id, err)
	}
	return []domain.Campaign{c}, nil
}

// listCampaigns drains the campaign listing. A page is retried in place.
func (s *Syncer) listCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	pager := s.fetcher.Campaigns(s.cfg.PageSize)
	var out []domain.Campaign
	for pager.HasMorePages() {
		var page []domain.Campaign
		err := s.retry(ctx, func(ctx context.Context) error {
			var perr error
			page, perr = pager.NextPage(ctx)
			return perr
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

// stale keeps the campaigns never synced or synced longer ago than the
// incremental threshold.
func (s *Syncer) stale(ctx context.Context, campaigns []domain.Campaign) ([]domain.Campaign, error) {
	ids := make([]string, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
	}
	last, err := s.store.LastSynced(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading last synced times: %w", err)
	}
	now := s.now()
	var out []domain.Campaign
	for _, c := range campaigns {
		if at, ok := last[c.ID]; ok {
			c.LastSyncedAt = &at
		}
		if c.IsStale(now, s.cfg.IncrementalThreshold) {
			out = append(out, c)
		}
	}
	return out, nil
}

// syncCampaign upserts the campaign and then every report kind in order.
// Upstream and write failures are counted and the campaign carries on; only
// authentication failures and cancellation are returned.
func (s *Syncer) syncCampaign(ctx context.Context, c domain.Campaign, acc *tally, log *logger.Logger) error {
	log = log.With("campaign_id", c.ID)
	if err := s.store.UpsertCampaign(ctx, c); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		acc.fail(domain.FailureWrite, 1)
		acc.skipped = true
		log.Error("campaign write failed, skipping", "error", err)
		return nil
	}

	clean := true
	for _, kind := range domain.ReportKinds {
		pager := s.fetcher.Report(c.ID, kind, s.cfg.PageSize)
		for pager.HasMorePages() {
			var page []domain.Recipient
			err := s.retry(ctx, func(ctx context.Context) error {
				var perr error
				page, perr = pager.NextPage(ctx)
				return perr
			})
			if err != nil {
				if fatal(ctx, err) {
					return err
				}
				clean = false
				acc.fail(failureKind(err), 1)
				log.Warn("report fetch failed, skipping report kind", "report", string(kind), "error", err)
				break
			}
			if len(page) == 0 {
				continue
			}

			res, err := s.store.UpsertRecipients(ctx, page)
			acc.upserted += res.Upserted
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				clean = false
				acc.fail(domain.FailureWrite, len(page)-res.Upserted)
				log.Error("recipient batch failed", "report", string(kind), "error", err)
				continue
			}
			if len(res.Failed) > 0 {
				clean = false
				acc.fail(domain.FailureWrite, len(res.Failed))
				for _, we := range res.Failed {
					log.Warn("recipient write failed", "contact_id", we.ContactID, "error", we.Err)
				}
			}
		}
	}

	if clean {
		if err := s.store.MarkSynced(ctx, c.ID, s.now().UTC()); err != nil {
			log.Error("failed to mark campaign synced", "error", err)
		}
	}
	log.Debug("campaign synced", "recipients_upserted", acc.upserted, "clean", clean)
	return nil
}

// materialize exports one campaign from the store. Failures are counted,
// never returned, except through ctx.
func (s *Syncer) materialize(ctx context.Context, c domain.Campaign, resolver Resolver, acc *tally, log *logger.Logger) {
	log = log.With("campaign_id", c.ID)
	recipients, err := s.store.ListRecipients(ctx, c.ID)
	if err != nil {
		acc.fail(domain.FailureExport, 1)
		log.Error("loading recipients for export failed", "error", err)
		return
	}

	var matches []domain.MatchResult
	if resolver != nil {
		matches, err = resolver.ResolveAll(ctx, recipients, s.cfg.Workers)
		if err != nil {
			acc.fail(domain.FailureExport, 1)
			log.Error("resolution failed", "error", err)
			return
		}
		for _, m := range matches {
			acc.fail(domain.FailureDataQuality, len(m.Warnings))
		}
		if matches == nil {
			matches = []domain.MatchResult{}
		}
	}

	if _, err := s.exporter.WriteFile(ctx, c, recipients, matches); err != nil {
		acc.fail(domain.FailureExport, 1)
		log.Error("export failed", "error", err)
		return
	}
	acc.exported++
}

// retry calls fn until it succeeds, honoring rate-limit hints up to
// MaxRateLimitWait in total and retrying upstream failures up to
// UpstreamAttempts times.
func (s *Syncer) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := 0
	var waited time.Duration
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if fatal(ctx, err) {
			return err
		}

		var wait time.Duration
		var rl *ongage.RateLimitedError
		switch {
		case errors.As(err, &rl):
			wait = rl.RetryAfter
			if wait <= 0 {
				wait = s.cfg.RetryBackoff
			}
			if waited+wait > s.cfg.MaxRateLimitWait {
				return err
			}
			waited += wait
		case ongage.IsRetryable(err):
			attempts++
			if attempts >= s.cfg.UpstreamAttempts {
				return err
			}
			wait = s.cfg.RetryBackoff * time.Duration(attempts)
		default:
			return err
		}

		s.log.Debug("retrying upstream request", "wait_ms", wait.Milliseconds(), "error", err)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// fatal reports errors that end the run rather than the report kind.
func fatal(ctx context.Context, err error) bool {
	return ongage.IsAuthentication(err) || ctx.Err() != nil
}

func failureKind(err error) domain.FailureKind {
	var rl *ongage.RateLimitedError
	switch {
	case ongage.IsAuthentication(err):
		return domain.FailureAuthentication
	case errors.As(err, &rl):
		return domain.FailureRateLimited
	default:
		return domain.FailureUpstream
	}
}

// LatestRun returns the most recent run summary from the store.
func (s *Syncer) LatestRun(ctx context.Context) (domain.SyncRun, error) {
	return s.store.LatestRun(ctx)
}
