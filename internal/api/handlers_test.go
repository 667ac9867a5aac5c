package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/export"
	"github.com/ignite/engagement-sync/internal/syncer"
)

type fakeRunner struct {
	mu      sync.Mutex
	reqs    []syncer.Request
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req syncer.Request) (domain.SyncRun, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	return domain.SyncRun{ID: "r1", Mode: req.Mode}, nil
}

type fakeReader struct {
	campaigns  map[string]domain.Campaign
	recipients map[string][]domain.Recipient
	latest     *domain.SyncRun
	err        error
}

func (f *fakeReader) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	if f.err != nil {
		return domain.Campaign{}, f.err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeReader) ListRecipients(ctx context.Context, id string) ([]domain.Recipient, error) {
	return f.recipients[id], nil
}

func (f *fakeReader) LatestRun(ctx context.Context) (domain.SyncRun, error) {
	if f.err != nil {
		return domain.SyncRun{}, f.err
	}
	if f.latest == nil {
		return domain.SyncRun{}, domain.ErrNotFound
	}
	return *f.latest, nil
}

type fakeResolver struct{}

func (fakeResolver) ResolveAll(ctx context.Context, recipients []domain.Recipient, workers int) ([]domain.MatchResult, error) {
	out := make([]domain.MatchResult, len(recipients))
	for i := range out {
		out[i] = domain.MatchResult{Tier: domain.TierRegion, Region: "Central"}
	}
	return out, nil
}

func setupTestServer(t *testing.T, runner *fakeRunner, reader *fakeReader, withResolver bool) (*Handlers, http.Handler) {
	t.Helper()
	var factory syncer.ResolverFactory
	if withResolver {
		factory = func(ctx context.Context) (syncer.Resolver, error) { return fakeResolver{}, nil }
	}
	h := NewHandlers(context.Background(), runner, reader, export.New(export.Options{}), factory, 2)
	return h, SetupRoutes(h, NewHealthChecker(nil, nil), nil)
}

func TestTriggerSync_Accepted(t *testing.T) {
	runner := &fakeRunner{}
	h, srv := setupTestServer(t, runner, &fakeReader{}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/", strings.NewReader(`{"mode":"incremental","export":true}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "incremental", body["mode"])

	require.Len(t, runner.reqs, 1)
	assert.Equal(t, domain.SyncIncremental, runner.reqs[0].Mode)
	assert.True(t, runner.reqs[0].Export)
}

func TestTriggerSync_EmptyBodyDefaultsToFull(t *testing.T) {
	runner := &fakeRunner{}
	h, srv := setupTestServer(t, runner, &fakeReader{}, false)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/", nil))
	h.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, runner.reqs, 1)
	assert.Equal(t, domain.SyncFull, runner.reqs[0].Mode)
}

func TestTriggerSync_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"mode":`},
		{"unknown mode", `{"mode":"sometimes"}`},
		{"single without campaign", `{"mode":"single"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			_, srv := setupTestServer(t, runner, &fakeReader{}, false)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, runner.reqs)
		})
	}
}

func TestTriggerSync_ConflictWhileRunning(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	h, srv := setupTestServer(t, runner, &fakeReader{}, false)

	first := httptest.NewRecorder()
	srv.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/sync/", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	srv.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/sync/", nil))
	assert.Equal(t, http.StatusConflict, second.Code)

	close(runner.release)
	h.Wait()

	third := httptest.NewRecorder()
	srv.ServeHTTP(third, httptest.NewRequest(http.MethodPost, "/api/sync/", nil))
	h.Wait()
	assert.Equal(t, http.StatusAccepted, third.Code)
}

func TestLatestRun(t *testing.T) {
	_, srv := setupTestServer(t, &fakeRunner{}, &fakeReader{}, false)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/runs/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	run := domain.SyncRun{ID: "r9", Mode: domain.SyncFull, CampaignsProcessed: 4}
	_, srv = setupTestServer(t, &fakeRunner{}, &fakeReader{latest: &run}, false)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r9", got.ID)
	assert.Equal(t, 4, got.CampaignsProcessed)

	_, srv = setupTestServer(t, &fakeRunner{}, &fakeReader{err: errors.New("db down")}, false)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/runs/latest", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func exportReader() *fakeReader {
	return &fakeReader{
		campaigns: map[string]domain.Campaign{"42": {ID: "42", Name: "Spring Savings"}},
		recipients: map[string][]domain.Recipient{"42": {
			{CampaignID: "42", ContactID: "c1", Email: "a@example.com", Engagement: domain.Engagement{Opened: true}},
		}},
	}
}

func TestExportCampaign(t *testing.T) {
	_, srv := setupTestServer(t, &fakeRunner{}, exportReader(), false)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/campaigns/42/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "42_spring_savings.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "match_tier")
	assert.Contains(t, lines[1], "a@example.com")
}

func TestExportCampaign_Resolved(t *testing.T) {
	_, srv := setupTestServer(t, &fakeRunner{}, exportReader(), true)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/campaigns/42/export.csv?resolve=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "match_tier")
	assert.Contains(t, lines[1], "region")
	assert.Contains(t, lines[1], "Central")
}

func TestExportCampaign_Errors(t *testing.T) {
	_, srv := setupTestServer(t, &fakeRunner{}, exportReader(), false)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"unknown campaign", "/api/campaigns/7/export.csv", http.StatusNotFound},
		{"bad resolve flag", "/api/campaigns/42/export.csv?resolve=maybe", http.StatusBadRequest},
		{"resolver not configured", "/api/campaigns/42/export.csv?resolve=true", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHealth_NotConfigured(t *testing.T) {
	_, srv := setupTestServer(t, &fakeRunner{}, &fakeReader{}, false)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status.Checks, "store")
	assert.Contains(t, status.Checks, "redis")
}
