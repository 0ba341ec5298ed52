package orchestration

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
)

// StartRequest begins a run from the given seeds.
type StartRequest struct {
	Seeds     []string
	Origin    discovery.SeedOrigin
	Requester discovery.Requester
}

// batchCursor tracks the last page fetched for one seed batch.
type batchCursor struct {
	seeds   []string
	page    int
	hasMore bool
}

// batchOutcome is the result of one expander call, tagged with the position of
// its request.
type batchOutcome struct {
	index  int
	result discovery.ExpandResult
	err    error
}

// Start begins a discovery run. The call returns once the run is accepted;
// candidates, completion and failures arrive as events.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) error {
	ctx, span := o.startSpan(ctx, "start", req.Requester)
	defer span.End()
	span.SetAttributes(
		attribute.String("origin", req.Origin.String()),
		attribute.Int("seed_count", len(req.Seeds)),
	)

	err := o.submit(ctx, func(actx context.Context) error {
		hadResults := o.session.Len() > 0
		if err := o.session.Begin(req.Seeds, req.Origin); err != nil {
			return err
		}

		o.token++
		o.run++
		token := o.token
		o.failures = 0
		o.cursors = nil
		o.runCtx, o.runCancel = context.WithCancel(o.baseCtx)

		seeds := o.session.Seeds()
		if len(seeds) > 0 {
			o.planBatches(seeds)
		}

		o.metrics.IncSessionsStarted(actx, string(req.Origin.Kind))
		if hadResults {
			o.emit(actx, events.EventTypeSessionCleared, discovery.SessionCleared{})
		}
		o.emitState(actx)

		runCtx := o.runCtx
		o.launch(func() { o.runInitialPass(runCtx, token, seeds, req) })
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start rejected")
	}
	return err
}

// Stop ends the active run. Results still in flight are discarded; once they
// drain the buffer is cleared and the session returns to idle. Stopping an
// idle or already stopping session changes nothing; an idle session answers
// the requester with its current state.
func (o *Orchestrator) Stop(ctx context.Context, requester discovery.Requester) error {
	ctx, span := o.startSpan(ctx, "stop", requester)
	defer span.End()

	return o.submit(ctx, func(actx context.Context) error {
		if !o.session.RequestStop() {
			if o.session.State() == discovery.StateIdle && requester.ConnectionID != "" {
				o.emitStateTo(actx, requester.ConnectionID)
			}
			return nil
		}
		o.token++
		if o.runCancel != nil {
			o.runCancel()
		}
		o.metrics.IncSessionsStopped(actx)
		o.emitState(actx)

		if o.workers == 0 {
			o.finishStop(actx)
		}
		return nil
	})
}

// LoadMore requests the next page for every seed batch that reported more.
// It fails before the initial pass completes or while another request is
// pending.
func (o *Orchestrator) LoadMore(ctx context.Context, requester discovery.Requester) error {
	ctx, span := o.startSpan(ctx, "load_more", requester)
	defer span.End()

	return o.submit(ctx, func(actx context.Context) error {
		if err := o.session.BeginLoadMore(); err != nil {
			return err
		}

		var (
			reqs    []discovery.ExpandRequest
			targets []int
		)
		origin := o.session.Origin()
		for i, c := range o.cursors {
			if !c.hasMore {
				continue
			}
			reqs = append(reqs, discovery.ExpandRequest{Seeds: c.seeds, Origin: origin, Page: c.page + 1})
			targets = append(targets, i)
		}

		if len(reqs) == 0 || o.session.Full() {
			o.session.CompleteLoadMore(false)
			o.emit(actx, events.EventTypeLoadMoreComplete, discovery.LoadComplete{HasMore: false})
			o.emitState(actx)
			return nil
		}

		o.token++
		token := o.token
		o.emitState(actx)

		runCtx := o.runCtx
		o.launch(func() {
			o.expandOrdered(runCtx, reqs, func(out batchOutcome) {
				cursor, page := targets[out.index], reqs[out.index].Page
				o.post(func(c context.Context) { o.applyBatch(c, token, cursor, page, out) })
			})
			o.post(func(c context.Context) { o.completeLoadMore(c, token) })
		})
		return nil
	})
}

// launch runs fn on a worker goroutine counted toward the stop drain.
// Actor only.
func (o *Orchestrator) launch(fn func()) {
	o.workers++
	go func() {
		defer o.post(o.workerDone)
		fn()
	}()
}

func (o *Orchestrator) workerDone(ctx context.Context) {
	o.workers--
	if o.workers == 0 && o.session.State() == discovery.StateStopping {
		o.finishStop(ctx)
	}
}

func (o *Orchestrator) finishStop(ctx context.Context) {
	o.session.Clear()
	o.cursors = nil
	o.emit(ctx, events.EventTypeSessionCleared, discovery.SessionCleared{})
	o.emitState(ctx)
	o.logger.Info(ctx, "session stopped")
}

// current reports whether results tagged with token may still be applied.
func (o *Orchestrator) current(token uint64) bool {
	return token == o.token && o.session.State() == discovery.StateRunning
}

func (o *Orchestrator) planBatches(seeds []string) {
	chunks := chunkSeeds(seeds, o.cfg.BatchSize)
	o.cursors = make([]batchCursor, len(chunks))
	for i, c := range chunks {
		o.cursors[i] = batchCursor{seeds: c}
	}
}

func (o *Orchestrator) anyMore() bool {
	for _, c := range o.cursors {
		if c.hasMore {
			return true
		}
	}
	return false
}

// runInitialPass resolves seeds if needed, loads the library exclusion list
// and expands every seed batch. It runs on a worker goroutine.
func (o *Orchestrator) runInitialPass(ctx context.Context, token uint64, seeds []string, req StartRequest) {
	log := o.logger.With("origin", req.Origin.String())

	if len(seeds) == 0 && req.Origin.Kind == discovery.OriginPersonal {
		resolved, err := o.personal.PersonalSeeds(ctx, req.Origin.SourceID)
		resolved = discovery.DedupeNames(resolved)
		if err == nil && len(resolved) == 0 {
			err = discovery.NewValidationError("no listening history found for %s", req.Origin.SourceID)
		}
		if err != nil {
			log.Warn(ctx, "failed to resolve personal seeds", "error", err)
			o.post(func(c context.Context) { o.abortRun(c, token, req.Requester, err) })
			return
		}
		seeds = resolved
		o.post(func(context.Context) {
			if o.current(token) {
				o.session.ResolveSeeds(resolved)
				o.planBatches(o.session.Seeds())
			}
		})
	}

	if library, err := o.catalogue.ListArtists(ctx); err != nil {
		log.Warn(ctx, "failed to load library artists, continuing without exclusion", "error", err)
	} else if len(library) > 0 {
		o.post(func(context.Context) {
			if o.current(token) {
				o.session.Exclude(library)
			}
		})
	}

	chunks := chunkSeeds(seeds, o.cfg.BatchSize)
	reqs := make([]discovery.ExpandRequest, len(chunks))
	for i, c := range chunks {
		reqs[i] = discovery.ExpandRequest{Seeds: c, Origin: req.Origin}
	}

	o.expandOrdered(ctx, reqs, func(out batchOutcome) {
		o.post(func(c context.Context) { o.applyBatch(c, token, out.index, 0, out) })
	})
	o.post(func(c context.Context) { o.completeInitialLoad(c, token) })
}

// expandOrdered expands reqs with bounded parallelism and hands each outcome
// to deliver in request order, whatever order the calls finish in.
func (o *Orchestrator) expandOrdered(ctx context.Context, reqs []discovery.ExpandRequest, deliver func(batchOutcome)) {
	slots := make([]chan batchOutcome, len(reqs))
	for i := range slots {
		slots[i] = make(chan batchOutcome, 1)
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallelBatches)
	go func() {
		for i, req := range reqs {
			g.Go(func() error {
				out := batchOutcome{index: i}
				if err := ctx.Err(); err != nil {
					out.err = err
				} else {
					out.err = o.metrics.TrackBatch(ctx, func() error {
						var err error
						out.result, err = o.expander.ExpandSeeds(ctx, req)
						return err
					})
				}
				slots[i] <- out
				return nil
			})
		}
	}()

	for _, slot := range slots {
		deliver(<-slot)
	}
	_ = g.Wait()
}

// applyBatch merges one batch outcome into the session. Actor only.
func (o *Orchestrator) applyBatch(ctx context.Context, token uint64, cursor, page int, out batchOutcome) {
	if !o.current(token) {
		o.metrics.IncStaleResultsDropped(ctx)
		return
	}
	if cursor >= len(o.cursors) {
		return
	}

	if out.err != nil {
		o.cursors[cursor].hasMore = false
		if discovery.IsConnectivity(out.err) {
			o.failures++
			o.metrics.IncBatchErrors(ctx, discovery.ClassConnectivity.String())
			o.logger.Warn(ctx, "upstream unreachable", "batch", cursor, "failures", o.failures, "error", out.err)
			if o.failures >= o.cfg.ConnectivityFailureThreshold {
				o.abandonRun(ctx)
			}
			return
		}
		o.failures = 0
		if errors.Is(out.err, context.Canceled) {
			return
		}
		o.metrics.IncBatchErrors(ctx, discovery.KindOf(out.err).String())
		o.logger.Warn(ctx, "seed batch failed", "batch", cursor, "page", page, "error", out.err)
		return
	}

	o.failures = 0
	o.cursors[cursor].page = page
	o.cursors[cursor].hasMore = out.result.HasMore

	merged := o.session.Merge(out.result.Candidates)
	o.metrics.ObserveCandidatesAppended(ctx, len(merged.Appended))
	if len(merged.Updated) > 0 {
		o.emit(ctx, events.EventTypeCandidatesUpdated, discovery.CandidatesUpdated{Candidates: merged.Updated})
	}
	if len(merged.Appended) > 0 {
		o.emit(ctx, events.EventTypeCandidatesAppended, discovery.CandidatesAppended{Candidates: merged.Appended})
	}
}

func (o *Orchestrator) completeInitialLoad(ctx context.Context, token uint64) {
	if !o.current(token) {
		return
	}
	o.session.CompleteInitialLoad(o.anyMore())
	if o.session.Len() == 0 {
		o.notify(ctx, "", "No results", "No similar artists were found. Try different seeds.")
	}
	o.emit(ctx, events.EventTypeInitialLoadComplete, discovery.LoadComplete{HasMore: o.session.Pagination().HasMore})
	o.emitState(ctx)
	o.logger.Info(ctx, "initial load complete", "candidates", o.session.Len(), "has_more", o.session.Pagination().HasMore)
}

func (o *Orchestrator) completeLoadMore(ctx context.Context, token uint64) {
	if !o.current(token) {
		return
	}
	o.session.CompleteLoadMore(o.anyMore())
	o.emit(ctx, events.EventTypeLoadMoreComplete, discovery.LoadComplete{HasMore: o.session.Pagination().HasMore})
	o.emitState(ctx)
}

// abandonRun returns the session to idle after repeated connectivity
// failures. Delivered results are kept.
func (o *Orchestrator) abandonRun(ctx context.Context) {
	o.token++
	if o.runCancel != nil {
		o.runCancel()
	}
	o.session.Abandon()
	o.metrics.IncConnectivityLosses(ctx)
	o.emitState(ctx)
	o.notify(ctx, "", "Connection lost",
		"Lost contact with the music services. Results so far are kept; start again once the connection is back.")
	o.logger.Warn(ctx, "run abandoned after connectivity loss", "candidates", o.session.Len())
}

// abortRun ends a run that could not get started, such as a personal source
// with no listening history.
func (o *Orchestrator) abortRun(ctx context.Context, token uint64, requester discovery.Requester, err error) {
	if !o.current(token) {
		return
	}
	o.token++
	if o.runCancel != nil {
		o.runCancel()
	}
	o.session.Clear()
	o.cursors = nil
	o.emitActionError(ctx, requester, discovery.ActionStart, "", err)
	o.notify(ctx, requester.ConnectionID, "No seeds", "We couldn't find any artists to start from.")
	o.emitState(ctx)
}

// chunkSeeds splits seeds into consecutive batches of at most size.
func chunkSeeds(seeds []string, size int) [][]string {
	if size <= 0 {
		size = len(seeds)
	}
	var out [][]string
	for start := 0; start < len(seeds); start += size {
		end := min(start+size, len(seeds))
		out = append(out, seeds[start:end])
	}
	return out
}
