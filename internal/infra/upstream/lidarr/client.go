// Package lidarr is the catalogue adapter. It lists the artists already in the
// Lidarr library and adds new ones.
package lidarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/httpx"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

const artistPath = "/api/v1/artist"

// ErrNotConfigured is returned when no Lidarr address or key is set.
var ErrNotConfigured = errors.New("lidarr: address or api key not configured")

// MBIDResolver maps an artist name to its MusicBrainz id. An empty id means
// no match.
type MBIDResolver interface {
	ResolveMBID(ctx context.Context, name string) (string, error)
}

// Config holds the library settings used when adding an artist.
type Config struct {
	APIKey            string
	RootFolderPath    string
	QualityProfileID  int
	MetadataProfileID int
	Monitored         bool
	// MonitorOption is Lidarr's "monitor" add option, e.g. "all" or "future".
	MonitorOption string
	// AlbumsToMonitor lists album MBIDs to monitor on add.
	AlbumsToMonitor        []string
	MonitorNewItems        string
	SearchForMissingAlbums bool
	// DryRun skips the add call and reports success.
	DryRun bool
	// CacheTTL bounds how long a library listing is reused.
	CacheTTL time.Duration
}

// Client talks to a Lidarr instance.
type Client struct {
	http     *httpx.Client
	cfg      Config
	resolver MBIDResolver

	mu        sync.RWMutex
	artists   []string
	fetchedAt time.Time
	refresh   singleflight.Group

	timeProvider timeutil.Provider
	logger       *logger.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithTimeProvider sets the clock used for cache expiry.
func WithTimeProvider(tp timeutil.Provider) Option {
	return func(c *Client) { c.timeProvider = tp }
}

// New creates a Lidarr client.
func New(http *httpx.Client, cfg Config, resolver MBIDResolver, logger *logger.Logger, opts ...Option) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	c := &Client{
		http:         http,
		cfg:          cfg,
		resolver:     resolver,
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "lidarr"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return strings.TrimSpace(c.cfg.APIKey) != "" }

func (c *Client) header() http.Header {
	return http.Header{"X-Api-Key": {c.cfg.APIKey}}
}

// ListArtists returns the library's artist names. Listings are cached for
// CacheTTL and concurrent refreshes share one request.
func (c *Client) ListArtists(ctx context.Context) ([]string, error) {
	if !c.Configured() {
		return nil, discovery.NewPermanentError("lidarr.list", ErrNotConfigured)
	}

	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.timeProvider.Now().Sub(c.fetchedAt) < c.cfg.CacheTTL
	cached := slices.Clone(c.artists)
	c.mu.RUnlock()
	if fresh {
		return cached, nil
	}

	v, err, _ := c.refresh.Do("artists", func() (any, error) {
		var body []struct {
			ArtistName string `json:"artistName"`
		}
		if err := c.http.GetJSON(ctx, "list", artistPath, nil, c.header(), &body); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(body))
		for _, a := range body {
			if a.ArtistName != "" {
				names = append(names, a.ArtistName)
			}
		}

		c.mu.Lock()
		c.artists, c.fetchedAt = names, c.timeProvider.Now()
		c.mu.Unlock()
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

// remember records a newly added artist in the cached listing.
func (c *Client) remember(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := discovery.NormalizeIdentity(name)
	if slices.ContainsFunc(c.artists, func(a string) bool { return discovery.NormalizeIdentity(a) == id }) {
		return
	}
	c.artists = append(c.artists, name)
}

type addOptions struct {
	SearchForMissingAlbums bool     `json:"searchForMissingAlbums"`
	Monitored              bool     `json:"monitored"`
	Monitor                string   `json:"monitor,omitempty"`
	AlbumsToMonitor        []string `json:"albumsToMonitor,omitempty"`
}

type addPayload struct {
	ArtistName        string     `json:"ArtistName"`
	QualityProfileID  int        `json:"qualityProfileId"`
	MetadataProfileID int        `json:"metadataProfileId"`
	Path              string     `json:"path"`
	RootFolderPath    string     `json:"rootFolderPath"`
	ForeignArtistID   string     `json:"foreignArtistId"`
	Monitored         bool       `json:"monitored"`
	AddOptions        addOptions `json:"addOptions"`
	MonitorNewItems   string     `json:"monitorNewItems,omitempty"`
}

func (c *Client) payload(name, mbid string) addPayload {
	folder := strings.ReplaceAll(name, "/", " ")
	return addPayload{
		ArtistName:        name,
		QualityProfileID:  c.cfg.QualityProfileID,
		MetadataProfileID: c.cfg.MetadataProfileID,
		Path:              path.Join(c.cfg.RootFolderPath, folder) + "/",
		RootFolderPath:    c.cfg.RootFolderPath,
		ForeignArtistID:   mbid,
		Monitored:         c.cfg.Monitored,
		AddOptions: addOptions{
			SearchForMissingAlbums: c.cfg.SearchForMissingAlbums,
			Monitored:              c.cfg.Monitored,
			Monitor:                c.cfg.MonitorOption,
			AlbumsToMonitor:        c.cfg.AlbumsToMonitor,
		},
		MonitorNewItems: c.cfg.MonitorNewItems,
	}
}

// AddArtist adds name to the library. An artist Lidarr already tracks yields
// StatusAlreadyPresent without an error. Refusals are returned as adapter
// errors pinned to the status they produce.
func (c *Client) AddArtist(ctx context.Context, name string) (discovery.CandidateStatus, error) {
	const op = "lidarr.add"
	if !c.Configured() {
		return discovery.StatusFailed, discovery.NewPermanentError(op, ErrNotConfigured)
	}

	mbid, err := c.resolver.ResolveMBID(ctx, name)
	if err != nil {
		return discovery.StatusFailed, fmt.Errorf("failed to resolve musicbrainz id: %w", err)
	}
	if mbid == "" {
		return discovery.StatusFailed, discovery.NewStatusError(op, discovery.StatusFailed,
			fmt.Errorf("No Matching Artist for: '%s' in MusicBrainz.", name))
	}

	body := c.payload(name, mbid)
	if c.cfg.DryRun {
		c.logger.Info(ctx, "dry run: artist not sent to lidarr", "artist", name, "mbid", mbid, "path", body.Path)
		c.remember(name)
		return discovery.StatusAdded, nil
	}

	resp, err := c.http.Do(ctx, "add", httpx.Request{
		Method: http.MethodPost,
		Path:   artistPath,
		Header: c.header(),
		Body:   body,
	})
	if err == nil && resp.Status == http.StatusCreated {
		c.logger.Info(ctx, "artist added", "artist", name, "mbid", mbid)
		c.remember(name)
		return discovery.StatusAdded, nil
	}
	if resp == nil {
		return discovery.StatusFailed, err
	}

	msg := errorMessage(resp.Body)
	c.logger.Warn(ctx, "lidarr refused artist", "artist", name, "status_code", resp.Status, "message", msg)

	status := StatusForMessage(msg)
	if status == discovery.StatusAlreadyPresent {
		c.remember(name)
		return status, nil
	}
	return status, discovery.NewStatusError(op, status, errors.New(msg))
}

// StatusForMessage maps a Lidarr validation message onto a candidate status.
func StatusForMessage(msg string) discovery.CandidateStatus {
	switch {
	case strings.Contains(msg, "already been added"),
		strings.Contains(msg, "configured for an existing artist"):
		return discovery.StatusAlreadyPresent
	case strings.Contains(msg, "Invalid Path"):
		return discovery.StatusInvalidTarget
	case strings.Contains(strings.ToLower(msg), "exclusion"):
		return discovery.StatusRejected
	default:
		return discovery.StatusFailed
	}
}

// errorMessage extracts the human-readable reason from a Lidarr error body,
// which is either a list of validation failures or a single error object.
func errorMessage(body []byte) string {
	var list []struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) > 0 && list[0].ErrorMessage != "" {
			return list[0].ErrorMessage
		}
		return "No Error Message Returned"
	}

	var obj struct {
		ErrorMessage string `json:"errorMessage"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		switch {
		case obj.ErrorMessage != "":
			return obj.ErrorMessage
		case obj.Message != "":
			return obj.Message
		default:
			return "No Error Message Returned"
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return "Error Unknown"
}
