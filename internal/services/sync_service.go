// Package services provides the sync orchestration for the NVD mirror.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	syncevent "github.com/ortelius/nvd-mirror/events/modules/sync"
	"github.com/ortelius/nvd-mirror/internal/telemetry"
	"github.com/ortelius/nvd-mirror/model"
	"github.com/ortelius/nvd-mirror/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// MaxWindow is the longest lastModStartDate..lastModEndDate range the NVD API accepts
const MaxWindow = 120 * 24 * time.Hour

// Fetcher retrieves every page of an NVD endpoint
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params url.Values) ([]model.Page, error)
}

// RecordStore persists records and the sync state
type RecordStore interface {
	WriteRecord(kind model.RecordKind, raw json.RawMessage) (model.RecordHeader, error)
	LoadSyncState() (*model.SyncState, error)
	SaveSyncState(state *model.SyncState) error
}

// EventPublisher announces completed runs
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, event syncevent.SyncCompletedEvent) error
}

// SyncRequest selects the query window of one kind sync
type SyncRequest struct {
	Mode model.SyncMode
	// ID is the record identifier of a ModeSingle request
	ID string
	// Watermark is the persisted window of the kind. ModeIncremental continues from its
	// end; ModeResync advances it from the seed.
	Watermark model.Watermark
}

// SyncResult reports one kind sync. Watermark is the advanced window to commit and is
// zero for ModeSingle.
type SyncResult struct {
	Kind           model.RecordKind
	Mode           model.SyncMode
	Count          int
	NewestModified string
	Watermark      model.Watermark
}

// RunSummary reports a CLI level run
type RunSummary struct {
	RunID   string
	Mode    model.SyncMode
	Results []SyncResult
	// State is the committed sync state, nil for single record runs
	State *model.SyncState
}

// SyncService fetches records from the NVD and writes them to the repository
type SyncService struct {
	fetcher   Fetcher
	store     RecordStore
	publisher EventPublisher
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a SyncService
type Option func(*SyncService)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *SyncService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records run metrics into m
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *SyncService) { s.metrics = m }
}

// WithPublisher announces completed runs through p
func WithPublisher(p EventPublisher) Option {
	return func(s *SyncService) { s.publisher = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *SyncService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSyncService builds a SyncService
func NewSyncService(fetcher Fetcher, store RecordStore, opts ...Option) *SyncService {
	s := &SyncService{
		fetcher: fetcher,
		store:   store,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncVulnerabilities syncs CVE records for req
func (s *SyncService) SyncVulnerabilities(ctx context.Context, req SyncRequest) (SyncResult, error) {
	return s.syncKind(ctx, s.logger, model.KindVulnerabilities, req)
}

// SyncMatchStrings syncs CPE match criteria for req
func (s *SyncService) SyncMatchStrings(ctx context.Context, req SyncRequest) (SyncResult, error) {
	return s.syncKind(ctx, s.logger, model.KindMatchStrings, req)
}

// Resync refetches both collections and replaces the sync state. The state is seeded at
// EpochStart and written only once both kinds completed.
func (s *SyncService) Resync(ctx context.Context) (RunSummary, error) {
	return s.runAll(ctx, model.ModeResync, model.NewSyncState(model.EpochStart))
}

// Incremental syncs both collections from the persisted watermarks and commits the
// advanced state once both kinds completed.
func (s *SyncService) Incremental(ctx context.Context) (RunSummary, error) {
	state, err := s.store.LoadSyncState()
	if err != nil {
		return RunSummary{Mode: model.ModeIncremental}, err
	}
	return s.runAll(ctx, model.ModeIncremental, state)
}

// SyncCVE fetches a single CVE. The sync state is not touched.
func (s *SyncService) SyncCVE(ctx context.Context, cveID string) (RunSummary, error) {
	return s.runSingle(ctx, model.KindVulnerabilities, cveID)
}

// SyncMatchCriteria fetches a single CPE match criteria. The sync state is not touched.
func (s *SyncService) SyncMatchCriteria(ctx context.Context, matchCriteriaID string) (RunSummary, error) {
	return s.runSingle(ctx, model.KindMatchStrings, matchCriteriaID)
}

func (s *SyncService) runAll(ctx context.Context, mode model.SyncMode, state *model.SyncState) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.NewString(), Mode: mode}
	logger := s.logger.With(zap.String("run_id", summary.RunID), zap.String("mode", string(mode)))

	next := state.Clone()
	for _, kind := range model.SyncOrder {
		res, err := s.syncKind(ctx, logger, kind, SyncRequest{Mode: mode, Watermark: state.Get(kind)})
		if err != nil {
			return summary, fmt.Errorf("sync %s: %w", kind, err)
		}
		next.Set(kind, res.Watermark)
		summary.Results = append(summary.Results, res)
	}

	// Commit point: nothing above this line touched syncdate.json.
	if err := s.store.SaveSyncState(next); err != nil {
		return summary, err
	}
	summary.State = next

	completedAt := s.now()
	for _, res := range summary.Results {
		s.metrics.ObserveSuccess(string(res.Kind), completedAt)
		s.metrics.ObserveWatermark(string(res.Kind), res.Watermark.LastModEndDate)
	}

	s.publish(ctx, logger, summary)
	return summary, nil
}

func (s *SyncService) runSingle(ctx context.Context, kind model.RecordKind, id string) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.NewString(), Mode: model.ModeSingle}
	logger := s.logger.With(zap.String("run_id", summary.RunID), zap.String("mode", string(model.ModeSingle)))

	res, err := s.syncKind(ctx, logger, kind, SyncRequest{Mode: model.ModeSingle, ID: id})
	if err != nil {
		return summary, fmt.Errorf("sync %s %s: %w", kind, id, err)
	}
	summary.Results = append(summary.Results, res)
	s.metrics.ObserveSuccess(string(kind), s.now())

	s.publish(ctx, logger, summary)
	return summary, nil
}

func (s *SyncService) syncKind(ctx context.Context, logger *zap.Logger, kind model.RecordKind, req SyncRequest) (SyncResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "sync."+string(kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("nvd.kind", string(kind)),
		attribute.String("nvd.mode", string(req.Mode)),
	)

	// Captured before the first request so records modified while paging fall
	// into the next window.
	now := s.now().UTC()

	queries, err := BuildQueries(kind, req, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return SyncResult{}, err
	}

	var pages []model.Page
	for _, params := range queries {
		got, err := s.fetcher.Fetch(ctx, kind.Endpoint(), params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SyncResult{}, err
		}
		pages = append(pages, got...)
	}

	result := SyncResult{Kind: kind, Mode: req.Mode}
	var newest time.Time
	for _, page := range pages {
		for _, raw := range page.Records(kind) {
			header, err := s.store.WriteRecord(kind, raw)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return SyncResult{}, err
			}
			result.Count++

			if t, err := util.ParseISODatetime(header.LastModified); err == nil && t.After(newest) {
				newest = t
				result.NewestModified = util.FormatISODatetime(t)
			}
		}
	}

	if req.Mode != model.ModeSingle {
		result.Watermark = req.Watermark.Advance(s.windowEnd(logger, now, pages))
	}

	s.metrics.ObserveRecords(string(kind), result.Count)
	span.SetAttributes(attribute.Int("nvd.records", result.Count))
	logger.Info(fmt.Sprintf("%d %s synced", result.Count, kind.Label()),
		zap.String("kind", string(kind)),
		zap.Int("pages", len(pages)),
		zap.String("newestModified", result.NewestModified))

	return result, nil
}

// windowEnd picks the end boundary to commit: the earliest server timestamp reported
// during the fetch, bounded by the client's captured now. A server clock ahead of the
// client must not push the watermark past the requested lastModEndDate.
func (s *SyncService) windowEnd(logger *zap.Logger, now time.Time, pages []model.Page) time.Time {
	end := now
	for _, page := range pages {
		if page.Timestamp == "" {
			continue
		}
		ts, err := util.ParseISODatetime(page.Timestamp)
		if err != nil {
			logger.Warn("Ignoring unparsable server timestamp", zap.String("timestamp", page.Timestamp), zap.Error(err))
			continue
		}
		if ts.Before(end) {
			end = ts
		}
	}
	return end
}

func (s *SyncService) publish(ctx context.Context, logger *zap.Logger, summary RunSummary) {
	if s.publisher == nil {
		return
	}

	kinds := make([]syncevent.KindSummary, 0, len(summary.Results))
	for _, res := range summary.Results {
		ks := syncevent.KindSummary{Kind: res.Kind, Count: res.Count, NewestModified: res.NewestModified}
		if res.Mode != model.ModeSingle {
			wm := res.Watermark
			ks.Watermark = &wm
		}
		kinds = append(kinds, ks)
	}

	// The repository is already consistent here, so a lost notification only costs
	// downstream freshness.
	if err := s.publisher.PublishSyncCompleted(ctx, syncevent.NewSyncCompletedEvent(summary.RunID, summary.Mode, kinds)); err != nil {
		logger.Warn("Failed to publish sync event", zap.Error(err))
	}
}

// BuildQueries returns the query parameters of every request a kind sync issues, in order.
// Incremental windows longer than MaxWindow are split into consecutive sub-windows.
func BuildQueries(kind model.RecordKind, req SyncRequest, now time.Time) ([]url.Values, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	switch req.Mode {
	case model.ModeResync:
		return []url.Values{{}}, nil

	case model.ModeSingle:
		if util.IsEmpty(req.ID) {
			return nil, fmt.Errorf("single %s sync requires an identifier", kind)
		}
		return []url.Values{{kind.IDParam(): {req.ID}}}, nil

	case model.ModeIncremental:
		if err := req.Watermark.Validate(); err != nil {
			return nil, fmt.Errorf("incremental %s sync: %w", kind, err)
		}
		start := req.Watermark.LastModEndDate
		end := now
		if end.Before(start) {
			end = start
		}

		var queries []url.Values
		for {
			chunkEnd := start.Add(MaxWindow)
			if !chunkEnd.Before(end) {
				chunkEnd = end
			}
			queries = append(queries, url.Values{
				"lastModStartDate": {util.FormatISODatetime(start)},
				"lastModEndDate":   {util.FormatISODatetime(chunkEnd)},
			})
			if !chunkEnd.Before(end) {
				return queries, nil
			}
			start = chunkEnd
		}
	}
	return nil, fmt.Errorf("unknown sync mode %q", req.Mode)
}
