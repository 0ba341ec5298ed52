package orchestration

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/sonolive/internal/app/inflight"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
)

// Queries do not change the session. Identical concurrent queries share one
// upstream call and every caller receives the shared result.

// PollPersonalSources refreshes the availability of every personal source and
// broadcasts the result.
func (o *Orchestrator) PollPersonalSources(ctx context.Context, requester discovery.Requester) (discovery.PersonalSources, error) {
	ctx, span := o.startSpan(ctx, "poll_personal_sources", requester)
	defer span.End()

	v, err, shared := o.queries.Do("personal_sources", func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ActionTimeout)
		defer cancel()

		ids := o.personal.SourceIDs()
		states := make([]discovery.PersonalSourceState, len(ids))

		var g errgroup.Group
		for i, id := range ids {
			g.Go(func() error {
				st, err := o.personal.FetchPersonalSourceState(callCtx, id)
				if err != nil {
					o.logger.Warn(callCtx, "failed to fetch personal source state", "source", id, "error", err)
					reason := "Couldn't reach " + id + " right now. Try again shortly."
					st = discovery.PersonalSourceState{Configured: true, Reason: &reason}
				}
				states[i] = st
				return nil
			})
		}
		_ = g.Wait()

		sources := make(discovery.PersonalSources, len(ids))
		for i, id := range ids {
			sources[id] = states[i]
		}

		if err := o.submit(callCtx, func(actx context.Context) error {
			o.sources = sources.Clone()
			o.emit(actx, events.EventTypePersonalSourceState, discovery.PersonalSourceStateUpdate{Sources: sources.Clone()})
			return nil
		}); err != nil {
			return nil, err
		}
		return sources, nil
	})
	if shared {
		o.metrics.IncCoalescedQueries(ctx, string(discovery.ActionPollSources))
	}
	if err != nil {
		return nil, err
	}
	return v.(discovery.PersonalSources).Clone(), nil
}

// FetchPreview returns the biography for identity and delivers it to the
// requester as a preview_result.
func (o *Orchestrator) FetchPreview(ctx context.Context, requester discovery.Requester, identity string) (discovery.Preview, error) {
	ctx, span := o.startSpan(ctx, "fetch_preview", requester)
	defer span.End()
	span.SetAttributes(attribute.String("identity", identity))

	name, err := o.displayName(ctx, identity)
	if err != nil {
		return discovery.Preview{}, err
	}

	v, err, shared := o.queries.Do("preview:"+discovery.NormalizeIdentity(name), func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ActionTimeout)
		defer cancel()
		return o.previewer.FetchPreview(callCtx, name)
	})
	if shared {
		o.metrics.IncCoalescedQueries(ctx, string(discovery.ActionFetchPreview))
	}
	if err != nil {
		return discovery.Preview{}, err
	}

	preview := v.(discovery.Preview)
	preview.Identity = discovery.NormalizeIdentity(identity)
	o.post(func(c context.Context) {
		o.emit(c, events.EventTypePreviewResult, preview,
			events.WithKey(preview.Identity), events.WithTarget(requester.ConnectionID))
	})
	return preview, nil
}

// FetchSample returns a playable snippet for identity and delivers it to the
// requester as a sample_result.
func (o *Orchestrator) FetchSample(ctx context.Context, requester discovery.Requester, identity string) (discovery.Sample, error) {
	ctx, span := o.startSpan(ctx, "fetch_sample", requester)
	defer span.End()
	span.SetAttributes(attribute.String("identity", identity))

	name, err := o.displayName(ctx, identity)
	if err != nil {
		return discovery.Sample{}, err
	}

	v, err, shared := o.queries.Do("sample:"+discovery.NormalizeIdentity(name), func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ActionTimeout)
		defer cancel()
		return o.previewer.FetchSample(callCtx, name)
	})
	if shared {
		o.metrics.IncCoalescedQueries(ctx, string(discovery.ActionFetchSample))
	}
	if err != nil {
		return discovery.Sample{}, err
	}

	sample := v.(discovery.Sample)
	sample.Identity = discovery.NormalizeIdentity(identity)
	o.post(func(c context.Context) {
		o.emit(c, events.EventTypeSampleResult, sample,
			events.WithKey(sample.Identity), events.WithTarget(requester.ConnectionID))
	})
	return sample, nil
}

// displayName resolves identity to the candidate's display name, falling back
// to identity itself for artists outside the current run.
func (o *Orchestrator) displayName(ctx context.Context, identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", discovery.NewValidationError("identity is required")
	}
	name := identity
	err := o.submit(ctx, func(context.Context) error {
		if c, ok := o.session.Candidate(identity); ok {
			name = c.Name
		}
		return nil
	})
	return name, err
}

// PromptSeed turns a free-text prompt into seeds and starts a prompt-origin
// run with them. Artists already in the library are skipped. Only one prompt
// is resolved at a time: a repeat from the same connection is ignored and one
// from another connection is refused.
func (o *Orchestrator) PromptSeed(ctx context.Context, requester discovery.Requester, prompt string) error {
	ctx, span := o.startSpan(ctx, "prompt_seed", requester)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return discovery.NewEmptyPromptError()
	}
	if o.prompter == nil {
		return discovery.NewNotConfiguredError(
			"AI assistant isn't configured yet. Add an LLM API key or base URL in settings.")
	}

	return o.seedFrom(ctx, requester, seedSource{
		kind:     discovery.ActionPromptSeed,
		origin:   discovery.PromptOrigin(),
		ack:      events.EventTypePromptAck,
		ackFor:   func(seeds []string) any { return discovery.PromptAck{Seeds: seeds} },
		label:    "AI",
		noun:     "prompt",
		noSeeds:  "The AI couldn't suggest any artists from that request. Try adding genre or artist hints.",
		allKnown: "All suggested artists are already in your library. Try a different prompt.",
		suggest: func(ctx context.Context, library []string) ([]string, error) {
			return o.prompter.GenerateSeeds(ctx, prompt, library)
		},
	})
}

// SearchSeed looks up artists matching query and starts a search-origin run
// from the hits. It follows the same rules as PromptSeed.
func (o *Orchestrator) SearchSeed(ctx context.Context, requester discovery.Requester, query string) error {
	ctx, span := o.startSpan(ctx, "search_seed", requester)
	defer span.End()
	span.SetAttributes(attribute.String("query", query))

	query = strings.TrimSpace(query)
	if query == "" {
		return discovery.NewEmptyQueryError()
	}
	if o.searcher == nil {
		return discovery.NewNotConfiguredError("Artist search isn't available.")
	}

	return o.seedFrom(ctx, requester, seedSource{
		kind:     discovery.ActionSearchSeed,
		origin:   discovery.SearchOrigin(),
		ack:      events.EventTypeSearchAck,
		ackFor:   func(seeds []string) any { return discovery.SearchAck{Query: query, Seeds: seeds} },
		label:    "MusicBrainz",
		noun:     "search",
		noSeeds:  "MusicBrainz couldn't find any artists for that search. Try a different spelling.",
		allKnown: "All matching artists are already in your library. Try a different search.",
		suggest: func(ctx context.Context, _ []string) ([]string, error) {
			return o.searcher.SearchSeeds(ctx, query)
		},
	})
}

// seedSource describes where a seed-suggesting run gets its seeds and how it
// acknowledges them.
type seedSource struct {
	kind     discovery.ActionKind
	origin   discovery.SeedOrigin
	ack      events.EventType
	ackFor   func(seeds []string) any
	label    string
	noun     string
	noSeeds  string
	allKnown string
	suggest  func(ctx context.Context, library []string) ([]string, error)
}

// seedFrom resolves seeds from src, drops library artists and starts a run.
// One suggestion of each kind is resolved at a time.
func (o *Orchestrator) seedFrom(ctx context.Context, requester discovery.Requester, src seedSource) error {
	state, err := o.State(ctx)
	if err != nil {
		return err
	}
	if state != discovery.StateIdle {
		return discovery.NewAlreadyRunningError(state)
	}

	key := inflight.NewKey(src.kind, "")
	if !o.pending.TryAcquire(key, requester) {
		o.metrics.IncDuplicateActions(ctx, string(src.kind))
		if holder, ok := o.pending.Holder(key); ok && holder.ConnectionID != requester.ConnectionID {
			return discovery.NewSeedPendingError(src.noun)
		}
		return nil
	}
	defer o.pending.Release(key)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ActionTimeout)
	defer cancel()

	library, err := o.catalogue.ListArtists(callCtx)
	if err != nil {
		o.logger.Warn(ctx, "failed to load library artists for seeding", "source", src.label, "error", err)
	}

	suggested, err := src.suggest(callCtx, library)
	if err != nil {
		return err
	}
	suggested = discovery.DedupeNames(suggested)
	if len(suggested) == 0 {
		return discovery.NewValidationError("%s", src.noSeeds)
	}

	known := make(map[string]struct{}, len(library))
	for _, name := range library {
		known[discovery.NormalizeIdentity(name)] = struct{}{}
	}
	var skipped []string
	seeds := slices.DeleteFunc(slices.Clone(suggested), func(name string) bool {
		_, ok := known[discovery.NormalizeIdentity(name)]
		if ok {
			skipped = append(skipped, name)
		}
		return ok
	})
	if len(skipped) > 0 {
		if len(seeds) == 0 {
			return discovery.NewValidationError("%s", src.allKnown)
		}
		msg := fmt.Sprintf("%d %s suggestions are already in your library.", len(skipped), src.label)
		if len(skipped) == 1 {
			msg = skipped[0] + " is already in your library."
		}
		o.Notify(requester.ConnectionID, "Skipping known artists", msg)
	}
	o.logger.Info(ctx, "seeds suggested", "source", src.label, "seeds", len(seeds), "skipped", len(skipped))

	o.post(func(c context.Context) {
		o.emit(c, src.ack, src.ackFor(seeds), events.WithTarget(requester.ConnectionID))
	})

	return o.Start(ctx, StartRequest{
		Seeds:     seeds,
		Origin:    src.origin,
		Requester: requester,
	})
}

// ListLibrary returns the library artists and delivers them to the requester
// for seed selection.
func (o *Orchestrator) ListLibrary(ctx context.Context, requester discovery.Requester) ([]string, error) {
	ctx, span := o.startSpan(ctx, "list_library", requester)
	defer span.End()

	v, err, _ := o.queries.Do("library", func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ActionTimeout)
		defer cancel()
		return o.catalogue.ListArtists(callCtx)
	})
	if err != nil {
		return nil, err
	}

	artists := slices.Clone(v.([]string))
	slices.SortFunc(artists, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	o.post(func(c context.Context) {
		o.emit(c, events.EventTypeLibraryArtists, discovery.LibraryArtists{Artists: artists},
			events.WithTarget(requester.ConnectionID))
	})
	return artists, nil
}
