package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/itunes"
	"github.com/ahrav/sonolive/internal/infra/upstream/lastfm"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// sampleTrackLimit is how many top tracks are tried when looking for a
// sample.
const sampleTrackLimit = 10

// ErrNoSample is returned when no playable snippet was found.
var ErrNoSample = errors.New("No sample found")

// BiographySource supplies artist search, biographies and top tracks.
type BiographySource interface {
	SearchArtists(ctx context.Context, query string) ([]string, error)
	ArtistInfo(ctx context.Context, artist string) (lastfm.ArtistInfo, error)
	TopTracks(ctx context.Context, artist string, limit int) ([]string, error)
}

// VideoSearcher finds a video id for a query.
type VideoSearcher interface {
	Configured() bool
	SearchVideo(ctx context.Context, query string) (string, error)
}

// PreviewSearcher finds a track with an audio preview.
type PreviewSearcher interface {
	FindPreview(ctx context.Context, term string) (itunes.Track, bool, error)
}

// Preview serves biographies and playable samples.
type Preview struct {
	bio    BiographySource
	video  VideoSearcher
	audio  PreviewSearcher
	logger *logger.Logger
}

var _ discovery.Previewer = (*Preview)(nil)

// NewPreview creates a previewer. video may be nil.
func NewPreview(bio BiographySource, video VideoSearcher, audio PreviewSearcher, logger *logger.Logger) *Preview {
	return &Preview{bio: bio, video: video, audio: audio, logger: logger.With("component", "preview")}
}

// FetchPreview returns the biography of the artist whose name matches name.
func (p *Preview) FetchPreview(ctx context.Context, name string) (discovery.Preview, error) {
	const op = "preview.biography"

	matches, err := p.bio.SearchArtists(ctx, name)
	if err != nil {
		return discovery.Preview{}, err
	}

	want := discovery.NormalizeIdentity(name)
	for _, m := range matches {
		if discovery.NormalizeIdentity(m) != want {
			continue
		}
		info, err := p.bio.ArtistInfo(ctx, m)
		if err != nil {
			return discovery.Preview{}, err
		}
		if info.Bio == "" {
			return discovery.Preview{}, discovery.NewPermanentError(op,
				fmt.Errorf("No Biography available for: %s", name))
		}
		return discovery.Preview{ArtistName: info.Name, Biography: info.Bio}, nil
	}
	return discovery.Preview{}, discovery.NewPermanentError(op, fmt.Errorf("No Artist match for: %s", name))
}

// FetchSample finds something playable for name: a YouTube video for one of
// its top tracks, else an iTunes preview of a top track, else any iTunes
// preview for the artist.
func (p *Preview) FetchSample(ctx context.Context, name string) (discovery.Sample, error) {
	tracks, err := p.bio.TopTracks(ctx, name, sampleTrackLimit)
	if err != nil {
		p.logger.Warn(ctx, "failed to load top tracks", "artist", name, "error", err)
	}

	if p.video != nil && p.video.Configured() {
		for _, track := range tracks {
			id, err := p.video.SearchVideo(ctx, name+" "+track)
			if err != nil {
				p.logger.Warn(ctx, "youtube search failed", "artist", name, "track", track, "error", err)
				if ctx.Err() != nil {
					return discovery.Sample{}, ctx.Err()
				}
				continue
			}
			if id != "" {
				return discovery.Sample{Source: "youtube", VideoID: id, Track: track, Artist: name}, nil
			}
		}
	}

	for _, track := range tracks {
		if s, ok := p.itunes(ctx, name+" "+track, track, name); ok {
			return s, nil
		}
		if ctx.Err() != nil {
			return discovery.Sample{}, ctx.Err()
		}
	}
	if s, ok := p.itunes(ctx, name, name, name); ok {
		return s, nil
	}
	return discovery.Sample{}, discovery.NewPermanentError("preview.sample", ErrNoSample)
}

func (p *Preview) itunes(ctx context.Context, term, track, artist string) (discovery.Sample, bool) {
	t, ok, err := p.audio.FindPreview(ctx, term)
	if err != nil {
		p.logger.Warn(ctx, "itunes lookup failed", "term", term, "error", err)
		return discovery.Sample{}, false
	}
	if !ok {
		return discovery.Sample{}, false
	}
	if t.Track != "" {
		track = t.Track
	}
	if t.Artist != "" {
		artist = t.Artist
	}
	return discovery.Sample{Source: "itunes", PreviewURL: t.PreviewURL, Track: track, Artist: artist}, true
}
