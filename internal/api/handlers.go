package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/export"
	"github.com/ignite/engagement-sync/internal/pkg/httputil"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
	"github.com/ignite/engagement-sync/internal/syncer"
)

// Runner executes sync runs.
type Runner interface {
	Run(ctx context.Context, req syncer.Request) (domain.SyncRun, error)
}

// Reader is the read side of the store used by the handlers.
type Reader interface {
	GetCampaign(ctx context.Context, id string) (domain.Campaign, error)
	ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error)
	LatestRun(ctx context.Context) (domain.SyncRun, error)
}

// Handlers serves the control API. Triggered runs execute in the background
// on baseCtx, one at a time per process.
type Handlers struct {
	baseCtx      context.Context
	runner       Runner
	store        Reader
	materializer *export.Materializer
	resolver     syncer.ResolverFactory
	workers      int

	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Logger
}

// NewHandlers creates the handlers. resolver may be nil, which disables
// resolve=true exports.
func NewHandlers(baseCtx context.Context, runner Runner, store Reader, materializer *export.Materializer, resolver syncer.ResolverFactory, workers int) *Handlers {
	if workers < 1 {
		workers = 1
	}
	return &Handlers{
		baseCtx:      baseCtx,
		runner:       runner,
		store:        store,
		materializer: materializer,
		resolver:     resolver,
		workers:      workers,
		log:          logger.With("component", "api"),
	}
}

// Wait blocks until background runs have finished.
func (h *Handlers) Wait() { h.wg.Wait() }

// TriggerSync starts a run. An empty body means a full sync.
//
//	POST /api/sync {"mode":"incremental","resolve":true,"export":true}
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	req := syncer.Request{Mode: domain.SyncFull}
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	if mode, ok := domain.ParseSyncMode(string(req.Mode)); ok {
		req.Mode = mode
	}
	if err := req.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		httputil.Conflict(w, syncer.ErrRunInProgress.Error())
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.running.Store(false)
		run, err := h.runner.Run(h.baseCtx, req)
		if err != nil {
			h.log.Error("triggered sync run failed", "mode", string(req.Mode), "run_id", run.ID, "error", err)
		}
	}()

	httputil.Accepted(w, map[string]any{
		"status":      "started",
		"mode":        req.Mode,
		"campaign_id": req.CampaignID,
	})
}

// LatestRun returns the most recent run summary.
//
//	GET /api/sync/runs/latest
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.LatestRun(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		httputil.NotFound(w, "no sync runs recorded")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, run)
}

// ExportCampaign materializes one campaign from the store.
//
//	GET /api/campaigns/{id}/export.csv?resolve=true
func (h *Handlers) ExportCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	resolve := false
	if v := r.URL.Query().Get("resolve"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "resolve must be a boolean")
			return
		}
		resolve = b
	}
	if resolve && h.resolver == nil {
		httputil.BadRequest(w, "identity resolution is not configured")
		return
	}

	c, err := h.store.GetCampaign(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	recipients, err := h.store.ListRecipients(ctx, id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var matches []domain.MatchResult
	if resolve {
		resolver, err := h.resolver(ctx)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if matches, err = resolver.ResolveAll(ctx, recipients, h.workers); err != nil {
			httputil.InternalError(w, err)
			return
		}
		if matches == nil {
			matches = []domain.MatchResult{}
		}
	}

	var buf bytes.Buffer
	if err := h.materializer.Write(&buf, c, recipients, matches); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Attachment(w, export.FileName(c), "text/csv; charset=utf-8", buf.Bytes())
}
