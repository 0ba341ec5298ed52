package main

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/sonolive/internal/config"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
)

// upstreams holds one HTTP client per upstream service so their limits can
// be changed when the configuration is reloaded.
type upstreams struct {
	lidarr       *httpx.Client
	lastfm       *httpx.Client
	musicbrainz  *httpx.Client
	listenbrainz *httpx.Client
	youtube      *httpx.Client
	openai       *httpx.Client
	deezer       *httpx.Client
	itunes       *httpx.Client
}

func newUpstream(name, userAgent string, uc config.UpstreamConfig, tracer trace.Tracer) *httpx.Client {
	return httpx.New(httpx.Config{
		Name:       name,
		BaseURL:    uc.BaseURL,
		UserAgent:  userAgent,
		Timeout:    uc.Timeout,
		RPS:        uc.RPS,
		Burst:      uc.Burst,
		MaxRetries: uc.MaxRetries,
	}, tracer)
}

func newUpstreams(cfg *config.Config, tracer trace.Tracer) *upstreams {
	ua := cfg.MusicBrainz.UserAgent
	return &upstreams{
		lidarr:       newUpstream("lidarr", ua, cfg.Lidarr.HTTP, tracer),
		lastfm:       newUpstream("lastfm", ua, cfg.LastFM.HTTP, tracer),
		musicbrainz:  newUpstream("musicbrainz", ua, cfg.MusicBrainz.HTTP, tracer),
		listenbrainz: newUpstream("listenbrainz", ua, cfg.ListenBrainz.HTTP, tracer),
		youtube:      newUpstream("youtube", ua, cfg.YouTube.HTTP, tracer),
		openai:       newUpstream("openai", ua, cfg.OpenAI.HTTP, tracer),
		deezer:       newUpstream("deezer", ua, cfg.Deezer, tracer),
		itunes:       newUpstream("itunes", ua, cfg.ITunes, tracer),
	}
}

// updateLimits applies reloaded rate limits. Other upstream settings need a
// restart.
func (u *upstreams) updateLimits(cfg *config.Config) {
	for _, pair := range []struct {
		client *httpx.Client
		uc     config.UpstreamConfig
	}{
		{u.lidarr, cfg.Lidarr.HTTP},
		{u.lastfm, cfg.LastFM.HTTP},
		{u.musicbrainz, cfg.MusicBrainz.HTTP},
		{u.listenbrainz, cfg.ListenBrainz.HTTP},
		{u.youtube, cfg.YouTube.HTTP},
		{u.openai, cfg.OpenAI.HTTP},
		{u.deezer, cfg.Deezer},
		{u.itunes, cfg.ITunes},
	} {
		pair.client.Limiter().UpdateLimits(pair.uc.RPS, pair.uc.Burst)
	}
}
