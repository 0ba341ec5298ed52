package discovery

import (
	"fmt"
	"math"
	"strings"
)

// PlaceholderImageURL is used when no artwork could be found for a candidate.
const PlaceholderImageURL = "https://placehold.co/512x512?text=No+Image"

// CandidateStatus represents where a candidate is in its user-driven lifecycle.
type CandidateStatus string

const (
	// StatusNew is the zero value: discovered, no action taken yet.
	StatusNew CandidateStatus = ""
	// StatusAdded indicates the artist was added to the catalogue.
	StatusAdded CandidateStatus = "added"
	// StatusAlreadyPresent indicates the catalogue already had the artist.
	StatusAlreadyPresent CandidateStatus = "already_present"
	// StatusRequested indicates a non-privileged user asked for the artist.
	StatusRequested CandidateStatus = "requested"
	// StatusFailed indicates a retryable failure.
	StatusFailed CandidateStatus = "failed"
	// StatusRejected indicates the catalogue refused the artist.
	StatusRejected CandidateStatus = "rejected"
	// StatusInvalidTarget indicates the destination is misconfigured.
	StatusInvalidTarget CandidateStatus = "invalid_target"
)

// IsTerminal reports whether no further user action is accepted for a
// candidate in this status.
func (s CandidateStatus) IsTerminal() bool {
	switch s {
	case StatusAdded, StatusAlreadyPresent, StatusRejected, StatusInvalidTarget:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s CandidateStatus) Valid() bool {
	switch s {
	case StatusNew, StatusAdded, StatusAlreadyPresent, StatusRequested,
		StatusFailed, StatusRejected, StatusInvalidTarget:
		return true
	default:
		return false
	}
}

// Label returns the human-readable status text shown on a candidate card.
func (s CandidateStatus) Label() string {
	switch s {
	case StatusAdded:
		return "Added"
	case StatusAlreadyPresent:
		return "Already in Library"
	case StatusRequested:
		return "Requested"
	case StatusFailed:
		return "Failed to Add"
	case StatusRejected:
		return "Rejected"
	case StatusInvalidTarget:
		return "Invalid Path"
	default:
		return ""
	}
}

// Attributes carries the display metadata for a candidate.
type Attributes struct {
	Genre           string   `json:"genre"`
	Popularity      string   `json:"popularity"`
	Followers       string   `json:"followers"`
	SimilarityScore *float64 `json:"similarityScore"`
	Similarity      string   `json:"similarity,omitempty"`
	ImageURL        string   `json:"imageUrl"`
}

// Candidate is one discovered artist surfaced to observers.
type Candidate struct {
	Identity   string          `json:"identity"`
	Name       string          `json:"name"`
	Attributes Attributes      `json:"attributes"`
	Status     CandidateStatus `json:"status"`
}

// NewCandidate builds a candidate with a normalized identity and a clamped,
// labelled similarity score.
func NewCandidate(name string, attrs Attributes) Candidate {
	c := Candidate{
		Identity:   NormalizeIdentity(name),
		Name:       strings.TrimSpace(name),
		Attributes: attrs,
	}
	c.Attributes.SimilarityScore, c.Attributes.Similarity = NormalizeSimilarity(attrs.SimilarityScore)
	if c.Attributes.Genre == "" {
		c.Attributes.Genre = "Unknown Genre"
	}
	if c.Attributes.ImageURL == "" {
		c.Attributes.ImageURL = PlaceholderImageURL
	}
	return c
}

// NormalizeSimilarity clamps a similarity score to [0,1] and returns it with
// its display label. A nil score stays nil with an empty label.
func NormalizeSimilarity(score *float64) (*float64, string) {
	if score == nil || math.IsNaN(*score) {
		return nil, ""
	}
	v := math.Max(0, math.Min(1, *score))
	return &v, SimilarityLabel(v)
}

// SimilarityLabel renders a clamped score as "Similarity: 87.5%".
func SimilarityLabel(score float64) string {
	return fmt.Sprintf("Similarity: %.1f%%", score*100)
}

// FormatCount renders large counts compactly: 1.2M, 3.4K, 999.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// PopularityLabel renders a play count for display.
func PopularityLabel(plays int64) string { return "Play Count: " + FormatCount(plays) }

// FollowersLabel renders a listener count for display.
func FollowersLabel(listeners int64) string { return "Listeners: " + FormatCount(listeners) }

// mergeSimilarity returns the better of two optional scores, preferring
// non-nil values.
func mergeSimilarity(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return b
	default:
		return a
	}
}
