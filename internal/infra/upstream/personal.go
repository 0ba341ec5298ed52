package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// personalSeedLimit is how many top artists are pulled from a listening
// history.
const personalSeedLimit = 50

// LastFMUser reads a Last.fm user's profile.
type LastFMUser interface {
	Configured() bool
	UserExists(ctx context.Context, user string) (bool, error)
	UserTopArtists(ctx context.Context, user string, limit int) ([]string, error)
}

// ListenBrainzUser reads a ListenBrainz user's statistics.
type ListenBrainzUser interface {
	UserExists(ctx context.Context, user string) (bool, error)
	TopArtists(ctx context.Context, user string, count int) ([]string, error)
}

// PersonalConfig names the listening accounts seeds are drawn from.
type PersonalConfig struct {
	LastFMUsername       string
	ListenBrainzUsername string
	// ListenBrainzEnabled turns the ListenBrainz source on.
	ListenBrainzEnabled bool
	// VerifyUsers checks that configured accounts exist when polling.
	VerifyUsers bool
}

// Personal reports availability of, and reads seeds from, personal
// listening-history sources.
type Personal struct {
	cfg          PersonalConfig
	lastfm       LastFMUser
	listenbrainz ListenBrainzUser
}

var _ discovery.PersonalSourceProvider = (*Personal)(nil)

// NewPersonal creates a personal source provider. Either client may be nil,
// which marks that source unconfigured.
func NewPersonal(cfg PersonalConfig, lastfm LastFMUser, listenbrainz ListenBrainzUser) *Personal {
	cfg.LastFMUsername = strings.TrimSpace(cfg.LastFMUsername)
	cfg.ListenBrainzUsername = strings.TrimSpace(cfg.ListenBrainzUsername)
	return &Personal{cfg: cfg, lastfm: lastfm, listenbrainz: listenbrainz}
}

// SourceIDs lists the supported sources.
func (p *Personal) SourceIDs() []string {
	return []string{discovery.SourceLastFM, discovery.SourceListenBrainz}
}

func (p *Personal) source(id string) (configured bool, username string, err error) {
	switch id {
	case discovery.SourceLastFM:
		return p.lastfm != nil && p.lastfm.Configured(), p.cfg.LastFMUsername, nil
	case discovery.SourceListenBrainz:
		return p.listenbrainz != nil && p.cfg.ListenBrainzEnabled, p.cfg.ListenBrainzUsername, nil
	default:
		return false, "", discovery.NewValidationError("unknown personal source %q", id)
	}
}

func (p *Personal) userExists(ctx context.Context, id, user string) (bool, error) {
	if id == discovery.SourceLastFM {
		return p.lastfm.UserExists(ctx, user)
	}
	return p.listenbrainz.UserExists(ctx, user)
}

// FetchPersonalSourceState reports whether sourceID can seed a run.
func (p *Personal) FetchPersonalSourceState(ctx context.Context, sourceID string) (discovery.PersonalSourceState, error) {
	configured, username, err := p.source(sourceID)
	if err != nil {
		return discovery.PersonalSourceState{}, err
	}

	st := discovery.NewPersonalSourceState(sourceID, configured, username)
	if !st.Enabled || !p.cfg.VerifyUsers {
		return st, nil
	}

	exists, err := p.userExists(ctx, sourceID, username)
	if err != nil {
		return discovery.PersonalSourceState{}, err
	}
	if !exists {
		reason := fmt.Sprintf("Couldn't find the account '%s'. Check your username.", username)
		st.Enabled, st.Reason = false, &reason
	}
	return st, nil
}

// PersonalSeeds returns the user's most played artists from sourceID.
func (p *Personal) PersonalSeeds(ctx context.Context, sourceID string) ([]string, error) {
	configured, username, err := p.source(sourceID)
	if err != nil {
		return nil, err
	}
	if st := discovery.NewPersonalSourceState(sourceID, configured, username); !st.Enabled {
		return nil, discovery.NewValidationError("%s", *st.Reason)
	}

	if sourceID == discovery.SourceLastFM {
		return p.lastfm.UserTopArtists(ctx, username, personalSeedLimit)
	}
	return p.listenbrainz.TopArtists(ctx, username, personalSeedLimit)
}
