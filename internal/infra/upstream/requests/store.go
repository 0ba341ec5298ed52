// Package requests queues artist requests from users who may not add to the
// library themselves, for an administrator to review.
package requests

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

// Status of a queued request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request is one user's request for an artist.
type Request struct {
	Identity    string    `json:"identity"`
	ArtistName  string    `json:"artistName"`
	UserID      string    `json:"userId"`
	Status      Status    `json:"status"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Store holds requests in memory, keyed by user and artist identity.
type Store struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Request

	timeProvider timeutil.Provider
	logger       *logger.Logger
}

// NewStore creates an empty store.
func NewStore(tp timeutil.Provider, logger *logger.Logger) *Store {
	if tp == nil {
		tp = timeutil.Default()
	}
	return &Store{
		byUser:       make(map[string]map[string]Request),
		timeProvider: tp,
		logger:       logger.With("component", "requests"),
	}
}

// Submit records a pending request by userID for name. Asking twice for the
// same artist fails with an adapter error that still resolves the candidate
// to StatusRequested.
func (s *Store) Submit(ctx context.Context, userID, name string) (discovery.CandidateStatus, error) {
	name = strings.TrimSpace(name)
	id := discovery.NormalizeIdentity(name)
	if userID == "" || id == "" {
		return discovery.StatusFailed, discovery.NewValidationError("user and artist are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reqs, ok := s.byUser[userID]
	if !ok {
		reqs = make(map[string]Request)
		s.byUser[userID] = reqs
	}
	if _, exists := reqs[id]; exists {
		return discovery.StatusRequested, discovery.NewStatusError("requests.submit", discovery.StatusRequested,
			fmt.Errorf("Request Already Exists: You have already requested '%s'.", name))
	}

	reqs[id] = Request{
		Identity:    id,
		ArtistName:  name,
		UserID:      userID,
		Status:      StatusPending,
		RequestedAt: s.timeProvider.Now(),
	}
	s.logger.Info(ctx, "artist requested", "user_id", userID, "artist", name)
	return discovery.StatusRequested, nil
}

// Pending lists every pending request, oldest first.
func (s *Store) Pending() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Request
	for _, reqs := range s.byUser {
		for _, r := range reqs {
			if r.Status == StatusPending {
				out = append(out, r)
			}
		}
	}
	slices.SortFunc(out, func(a, b Request) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

// Resolve marks a user's request approved or rejected. It reports whether the
// request existed.
func (s *Store) Resolve(userID, identity string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byUser[userID][discovery.NormalizeIdentity(identity)]
	if !ok {
		return false
	}
	r.Status = status
	s.byUser[userID][r.Identity] = r
	return true
}
