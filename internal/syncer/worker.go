// Package syncer publishes high-scoring candidate links to the service account's repo on a fixed interval.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/client"
	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/internal/store"
	"github.com/skylinks/skylinks/internal/ticker"
)

var tracer = otel.Tracer("skylinks/syncer")

var (
	ErrNoServiceSession = errors.New("service account session unavailable")
	ErrAlreadySynced    = errors.New("link already synced")
)

// Candidate link storage. Implemented by [store.LinkStore].
type CandidateStore interface {
	SelectSyncable(ctx context.Context, minScore int64, limit int) ([]store.Link, error)
	GetLink(ctx context.Context, id uint) (*store.Link, error)
	MarkSynced(ctx context.Context, id uint, uri syntax.ATURI, rev string, ts time.Time) error
	MarkFailed(ctx context.Context, id uint, status string) error
}

// Implemented by [client.Client].
type SessionSource interface {
	GetSessionFor(ctx context.Context, did syntax.DID) (*oauth.Session, error)
	SaveSession(ctx context.Context, sess *oauth.Session) error
}

// Implemented by [client.Client].
type RecordCreator interface {
	CreateRecord(ctx context.Context, sess *oauth.Session, collection syntax.NSID, record map[string]any, rkey syntax.RecordKey) (*client.RecordRef, *oauth.Session, error)
}

type CycleResult struct {
	// True when the cycle did not run, eg because the service session is missing
	Skipped bool

	Attempted int
	Synced    int
	Failed    int
}

type Stats struct {
	Enabled    bool       `json:"enabled"`
	ServiceDID string     `json:"serviceDid,omitempty"`
	MinScore   int64      `json:"minScore"`
	Cycles     int64      `json:"cycles"`
	Synced     int64      `json:"synced"`
	Failed     int64      `json:"failed"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

type Worker struct {
	config   Config
	links    CandidateStore
	sessions SessionSource
	records  RecordCreator
	tids     *syntax.TIDGenerator
	logger   *slog.Logger

	// clock, replaced in tests
	now func() time.Time

	// held for the whole of a cycle or manual sync
	cycleLk sync.Mutex

	statsLk sync.Mutex
	stats   Stats
}

func NewWorker(config Config, links CandidateStore, sessions SessionSource, records RecordCreator, tids *syntax.TIDGenerator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Collection == "" {
		config.Collection = DefaultConfig().Collection
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Worker{
		config:   config,
		links:    links,
		sessions: sessions,
		records:  records,
		tids:     tids,
		logger:   logger.With("component", "syncer"),
		now:      time.Now,
		stats: Stats{
			Enabled:    config.Enabled,
			ServiceDID: config.ServiceDID.String(),
			MinScore:   config.MinScore,
		},
	}
}

// Runs cycles until ctx is done: the first after Config.InitialDelay, then every Config.Interval. Returns immediately if the worker is disabled.
func (w *Worker) Run(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.Info("sync worker disabled")
		return nil
	}
	w.logger.Info("starting sync worker", "serviceDID", w.config.ServiceDID, "interval", w.config.Interval, "minScore", w.config.MinScore)

	err := ticker.PeriodicallyAfter(ctx, w.config.InitialDelay, w.config.Interval, func(ctx context.Context) error {
		res, err := w.RunCycle(ctx)
		if err != nil {
			w.logger.Warn("sync cycle failed", "err", err)
		} else if res.Attempted > 0 {
			w.logger.Info("sync cycle complete", "attempted", res.Attempted, "synced", res.Synced, "failed", res.Failed)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Runs one batch. Waits for any cycle or manual sync already in progress.
func (w *Worker) RunCycle(ctx context.Context) (res CycleResult, err error) {
	w.cycleLk.Lock()
	defer w.cycleLk.Unlock()

	ctx, span := tracer.Start(ctx, "RunCycle")
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("attempted", res.Attempted),
			attribute.Int("synced", res.Synced),
			attribute.Int("failed", res.Failed),
		)
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if res.Skipped {
			status = "skipped"
		}
		span.End()
		cyclesRun.WithLabelValues(status).Inc()
		cycleDuration.Observe(time.Since(start).Seconds())
		w.recordStats(res, err, true)
	}()

	sess, err := w.serviceSession(ctx)
	if err != nil {
		w.logger.Warn("skipping sync cycle", "err", err)
		return CycleResult{Skipped: true}, err
	}

	items, err := w.links.SelectSyncable(ctx, w.config.MinScore, w.config.BatchSize)
	if err != nil {
		return res, fmt.Errorf("selecting syncable links: %w", err)
	}

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		var ok bool
		sess, ok = w.syncLink(ctx, sess, &items[i])
		res.Attempted++
		if ok {
			res.Synced++
		} else {
			res.Failed++
		}
	}

	if res.Attempted > 0 {
		// carries nonce rotation forward to the next cycle
		if err := w.sessions.SaveSession(ctx, sess); err != nil {
			return res, fmt.Errorf("saving service session: %w", err)
		}
	}
	return res, nil
}

// Publishes a single link regardless of score or failed status. Links which already have a repo URI are rejected with [ErrAlreadySynced].
func (w *Worker) SyncItem(ctx context.Context, id uint) (*store.Link, error) {
	w.cycleLk.Lock()
	defer w.cycleLk.Unlock()

	ctx, span := tracer.Start(ctx, "SyncItem")
	defer span.End()
	span.SetAttributes(attribute.Int("link", int(id)))

	link, err := w.links.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.RepoURI != "" {
		return link, fmt.Errorf("%w: %s", ErrAlreadySynced, link.RepoURI)
	}
	sess, err := w.serviceSession(ctx)
	if err != nil {
		return nil, err
	}

	sess, ok := w.syncLink(ctx, sess, link)
	if err := w.sessions.SaveSession(ctx, sess); err != nil {
		w.logger.Error("saving service session", "err", err)
	}
	w.recordStats(CycleResult{Attempted: 1, Synced: boolInt(ok), Failed: boolInt(!ok)}, nil, false)
	if !ok {
		return nil, fmt.Errorf("sync of link %d failed", id)
	}
	return w.links.GetLink(ctx, id)
}

func (w *Worker) Stats() Stats {
	w.statsLk.Lock()
	defer w.statsLk.Unlock()
	s := w.stats
	if s.LastRun != nil {
		t := *s.LastRun
		s.LastRun = &t
	}
	return s
}

func (w *Worker) serviceSession(ctx context.Context) (*oauth.Session, error) {
	if w.config.ServiceDID == "" {
		return nil, fmt.Errorf("%w: no service DID configured", ErrNoServiceSession)
	}
	sess, err := w.sessions.GetSessionFor(ctx, w.config.ServiceDID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoServiceSession, err)
	}
	return sess, nil
}

// Creates the record for one link and stamps the outcome. Returns the session to use for the next request.
func (w *Worker) syncLink(ctx context.Context, sess *oauth.Session, link *store.Link) (*oauth.Session, bool) {
	rec := link.Record().Record()
	rkey := syntax.RecordKey(w.tids.Next().String())

	ref, next, err := w.records.CreateRecord(ctx, sess, w.config.Collection, rec, rkey)
	if next != nil {
		sess = next
	}
	if err != nil {
		itemsProcessed.WithLabelValues("failed").Inc()
		w.logger.Warn("failed to publish link", "link", link.ID, "url", link.URL, "err", err)
		if merr := w.links.MarkFailed(ctx, link.ID, store.StatusFailed); merr != nil {
			w.logger.Error("failed to mark link as failed", "link", link.ID, "err", merr)
		}
		return sess, false
	}

	itemsProcessed.WithLabelValues("synced").Inc()
	w.logger.Info("published link", "link", link.ID, "uri", ref.URI, "rev", ref.Rev, "score", link.Score)
	w.markSynced(ctx, link.ID, ref)
	return sess, true
}

// Stamps a published link, trying twice. The record already exists, so a link left unstamped would be published again on a later cycle.
func (w *Worker) markSynced(ctx context.Context, id uint, ref *client.RecordRef) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = w.links.MarkSynced(ctx, id, ref.URI, ref.Rev, w.now().UTC()); err == nil {
			return
		}
		w.logger.Warn("failed to mark link as synced", "link", id, "uri", ref.URI, "attempt", attempt, "err", err)
	}
	w.logger.Error("link published but not marked synced", "link", id, "uri", ref.URI, "err", err)
}

func (w *Worker) recordStats(res CycleResult, err error, cycle bool) {
	w.statsLk.Lock()
	defer w.statsLk.Unlock()
	now := w.now().UTC()
	w.stats.LastRun = &now
	if cycle {
		w.stats.Cycles++
	}
	w.stats.Synced += int64(res.Synced)
	w.stats.Failed += int64(res.Failed)
	if err != nil {
		w.stats.LastError = err.Error()
	} else {
		w.stats.LastError = ""
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
