// Package upstream composes the individual music-service clients into the
// adapters the discovery orchestrator depends on.
package upstream

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/lastfm"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

// SimilarityProvider supplies similar artists and their metadata.
type SimilarityProvider interface {
	SimilarArtists(ctx context.Context, artist string, limit int) ([]lastfm.Similar, error)
	ArtistInfo(ctx context.Context, artist string) (lastfm.ArtistInfo, error)
}

// ArtworkProvider finds a picture for an artist. An empty URL means none.
type ArtworkProvider interface {
	ArtworkURL(ctx context.Context, name string) (string, error)
}

// ExpanderConfig tunes seed expansion.
type ExpanderConfig struct {
	// SimilarPerSeed is how many similar artists are requested per seed.
	SimilarPerSeed int
	// PageSize is how many candidates one page of a seed batch holds.
	PageSize int
	// Concurrency bounds parallel upstream calls within one batch.
	Concurrency int
	// CacheTTL bounds how long a batch's merged similar list is reused for
	// later pages.
	CacheTTL time.Duration
}

// DefaultExpanderConfig returns the production defaults.
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{SimilarPerSeed: 100, PageSize: 10, Concurrency: 4, CacheTTL: 30 * time.Minute}
}

type similarEntry struct {
	similar   []lastfm.Similar
	fetchedAt time.Time
}

// Expander turns seed batches into enriched, paged candidates. Each batch's
// similar lists are fetched once, merged, ordered by similarity and then
// served page by page.
type Expander struct {
	cfg      ExpanderConfig
	similar  SimilarityProvider
	artwork  ArtworkProvider
	fetching singleflight.Group

	mu    sync.Mutex
	cache map[string]similarEntry

	timeProvider timeutil.Provider
	logger       *logger.Logger
	tracer       trace.Tracer
}

var _ discovery.SeedExpander = (*Expander)(nil)

// NewExpander creates an expander.
func NewExpander(
	cfg ExpanderConfig,
	similar SimilarityProvider,
	artwork ArtworkProvider,
	tp timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Expander {
	def := DefaultExpanderConfig()
	if cfg.SimilarPerSeed <= 0 {
		cfg.SimilarPerSeed = def.SimilarPerSeed
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if tp == nil {
		tp = timeutil.Default()
	}
	return &Expander{
		cfg:          cfg,
		similar:      similar,
		artwork:      artwork,
		cache:        make(map[string]similarEntry),
		timeProvider: tp,
		logger:       logger.With("component", "expander"),
		tracer:       tracer,
	}
}

// ExpandSeeds returns page req.Page of the candidates similar to req.Seeds.
func (e *Expander) ExpandSeeds(ctx context.Context, req discovery.ExpandRequest) (discovery.ExpandResult, error) {
	ctx, span := e.tracer.Start(ctx, "upstream.Expander.ExpandSeeds",
		trace.WithAttributes(
			attribute.Int("seeds", len(req.Seeds)),
			attribute.Int("page", req.Page),
			attribute.String("origin", req.Origin.String()),
		))
	defer span.End()

	similar, err := e.similarFor(ctx, req.Seeds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch similar artists")
		return discovery.ExpandResult{}, err
	}

	start := min(req.Page*e.cfg.PageSize, len(similar))
	end := min(start+e.cfg.PageSize, len(similar))
	page := similar[start:end]

	candidates, err := e.enrich(ctx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enrich candidates")
		return discovery.ExpandResult{}, err
	}

	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	span.SetStatus(codes.Ok, "seeds expanded")
	return discovery.ExpandResult{Candidates: candidates, HasMore: end < len(similar)}, nil
}

func batchKey(seeds []string) string {
	ids := make([]string, 0, len(seeds))
	for _, s := range seeds {
		ids = append(ids, discovery.NormalizeIdentity(s))
	}
	slices.Sort(ids)
	return strings.Join(ids, "\x00")
}

// similarFor returns the merged, ordered similar list for seeds.
func (e *Expander) similarFor(ctx context.Context, seeds []string) ([]lastfm.Similar, error) {
	key := batchKey(seeds)

	e.mu.Lock()
	entry, ok := e.cache[key]
	if ok && e.timeProvider.Now().Sub(entry.fetchedAt) < e.cfg.CacheTTL {
		e.mu.Unlock()
		return entry.similar, nil
	}
	e.mu.Unlock()

	v, err, _ := e.fetching.Do(key, func() (any, error) {
		merged, err := e.fetchSimilar(ctx, seeds)
		if err != nil {
			return nil, err
		}
		e.store(key, merged)
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]lastfm.Similar), nil
}

func (e *Expander) store(key string, similar []lastfm.Similar) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.timeProvider.Now()
	for k, entry := range e.cache {
		if now.Sub(entry.fetchedAt) >= e.cfg.CacheTTL {
			delete(e.cache, k)
		}
	}
	e.cache[key] = similarEntry{similar: similar, fetchedAt: now}
}

// fetchSimilar queries every seed, keeps the best match per artist, drops the
// seeds themselves and orders by match descending then name. It fails only
// when every seed failed.
func (e *Expander) fetchSimilar(ctx context.Context, seeds []string) ([]lastfm.Similar, error) {
	lists := make([][]lastfm.Similar, len(seeds))
	errs := make([]error, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			lists[i], errs[i] = e.similar.SimilarArtists(gctx, seed, e.cfg.SimilarPerSeed)
			if errs[i] != nil {
				e.logger.Warn(gctx, "failed to fetch similar artists", "seed", seed, "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		firstErr  error
		succeeded bool
	)
	for _, err := range errs {
		if err == nil {
			succeeded = true
		} else if firstErr == nil {
			firstErr = err
		}
	}
	if !succeeded && firstErr != nil {
		return nil, firstErr
	}

	seedIDs := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seedIDs[discovery.NormalizeIdentity(s)] = struct{}{}
	}

	best := make(map[string]int)
	var merged []lastfm.Similar
	for _, list := range lists {
		for _, s := range list {
			id := discovery.NormalizeIdentity(s.Name)
			if _, isSeed := seedIDs[id]; isSeed || id == "" {
				continue
			}
			if i, ok := best[id]; ok {
				if s.Match > merged[i].Match {
					merged[i].Match = s.Match
				}
				continue
			}
			best[id] = len(merged)
			merged = append(merged, s)
		}
	}

	slices.SortStableFunc(merged, func(a, b lastfm.Similar) int {
		if a.Match != b.Match {
			if a.Match > b.Match {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return merged, nil
}

// enrich builds display candidates for page in order. Metadata failures
// degrade the card rather than dropping the artist.
func (e *Expander) enrich(ctx context.Context, page []lastfm.Similar) ([]discovery.Candidate, error) {
	out := make([]discovery.Candidate, len(page))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, s := range page {
		g.Go(func() error {
			out[i] = e.candidate(gctx, s)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Expander) candidate(ctx context.Context, s lastfm.Similar) discovery.Candidate {
	name := s.Name
	var attrs discovery.Attributes

	info, err := e.similar.ArtistInfo(ctx, s.Name)
	if err != nil {
		e.logger.Warn(ctx, "failed to load artist info", "artist", s.Name, "error", err)
	} else {
		name = info.Name
		attrs.Genre = strings.Join(info.Tags, ", ")
		attrs.Popularity = discovery.PopularityLabel(info.Plays)
		attrs.Followers = discovery.FollowersLabel(info.Listeners)
	}
	if attrs.Popularity == "" {
		attrs.Popularity = discovery.PopularityLabel(0)
		attrs.Followers = discovery.FollowersLabel(0)
	}

	if e.artwork != nil {
		img, err := e.artwork.ArtworkURL(ctx, s.Name)
		if err != nil {
			e.logger.Debug(ctx, "failed to load artwork", "artist", s.Name, "error", err)
		}
		attrs.ImageURL = img
	}

	if s.Match >= 0 && !math.IsNaN(s.Match) {
		match := s.Match
		attrs.SimilarityScore = &match
	}
	return discovery.NewCandidate(name, attrs)
}
