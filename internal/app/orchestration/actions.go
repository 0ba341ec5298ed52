package orchestration

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/sonolive/internal/app/inflight"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
)

// AddToLibrary asks the catalogue to add the candidate. A repeat while the
// first request is still in flight is ignored.
func (o *Orchestrator) AddToLibrary(ctx context.Context, requester discovery.Requester, identity string) error {
	return o.applyAction(ctx, discovery.ActionAddToLibrary, requester, identity)
}

// RequestArtist files a request for the candidate on behalf of a user who may
// not add to the library directly.
func (o *Orchestrator) RequestArtist(ctx context.Context, requester discovery.Requester, identity string) error {
	return o.applyAction(ctx, discovery.ActionRequestArtist, requester, identity)
}

func (o *Orchestrator) applyAction(ctx context.Context, kind discovery.ActionKind, requester discovery.Requester, identity string) error {
	ctx, span := o.startSpan(ctx, string(kind), requester)
	defer span.End()
	span.SetAttributes(attribute.String("identity", identity))

	return o.submit(ctx, func(actx context.Context) error {
		candidate, ok := o.session.Candidate(identity)
		if !ok {
			return discovery.NewUnknownCandidateError(identity)
		}
		if candidate.Status.IsTerminal() {
			return discovery.NewTerminalStatusError(candidate.Name, candidate.Status)
		}

		key := inflight.NewKey(kind, candidate.Identity)
		if !o.pending.TryAcquire(key, requester) {
			o.metrics.IncDuplicateActions(actx, string(kind))
			return nil
		}

		run := o.run
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(o.baseCtx), o.cfg.ActionTimeout)
		go func() {
			defer cancel()
			status, err := o.actions.ApplyAction(callCtx, discovery.ActionRequest{
				Kind:      kind,
				Candidate: candidate,
				Requester: requester,
			})
			o.post(func(c context.Context) { o.completeAction(c, run, key, candidate, status, err) })
		}()
		return nil
	})
}

// completeAction records the outcome of an add/request started during run.
// Actor only.
func (o *Orchestrator) completeAction(ctx context.Context, run uint64, key inflight.Key, candidate discovery.Candidate, status discovery.CandidateStatus, err error) {
	requester, _ := o.pending.Release(key)
	if err != nil {
		status = discovery.StatusForActionError(err)
		o.logger.Warn(ctx, "candidate action failed",
			"kind", key.Kind, "identity", candidate.Identity, "status", status, "error", err)
	}
	o.metrics.IncActionsApplied(ctx, string(key.Kind), string(status))

	// A later run may hold a candidate with the same identity; the outcome
	// belongs to the run that asked for it.
	if run == o.run && o.session.SetStatus(candidate.Identity, status) {
		o.emit(ctx, events.EventTypeCandidateStatusChanged, discovery.CandidateStatusChanged{
			Identity: candidate.Identity,
			Status:   status,
			Label:    status.Label(),
		}, events.WithKey(candidate.Identity))
	}

	if err != nil {
		o.emitActionError(ctx, requester, key.Kind, candidate.Identity, err)
		return
	}
	if status == discovery.StatusRequested {
		o.notify(ctx, requester.ConnectionID, "Request Submitted",
			candidate.Name+" was submitted for approval.")
	}
}
