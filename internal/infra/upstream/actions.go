package upstream

import (
	"context"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// Library adds artists to the catalogue.
type Library interface {
	AddArtist(ctx context.Context, name string) (discovery.CandidateStatus, error)
}

// RequestQueue records artist requests for later approval.
type RequestQueue interface {
	Submit(ctx context.Context, userID, name string) (discovery.CandidateStatus, error)
}

// Actions applies candidate side effects: adds go to the library, requests to
// the request queue.
type Actions struct {
	library  Library
	requests RequestQueue
}

var _ discovery.ActionApplier = (*Actions)(nil)

// NewActions creates an action applier.
func NewActions(library Library, requests RequestQueue) *Actions {
	return &Actions{library: library, requests: requests}
}

// ApplyAction performs req and returns the status the candidate should take.
func (a *Actions) ApplyAction(ctx context.Context, req discovery.ActionRequest) (discovery.CandidateStatus, error) {
	switch req.Kind {
	case discovery.ActionAddToLibrary:
		return a.library.AddArtist(ctx, req.Candidate.Name)
	case discovery.ActionRequestArtist:
		return a.requests.Submit(ctx, req.Requester.Principal.UserID, req.Candidate.Name)
	default:
		return discovery.StatusFailed, discovery.NewValidationError("%s is not a candidate action", req.Kind)
	}
}
