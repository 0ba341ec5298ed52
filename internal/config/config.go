// Package config defines the sonolive service configuration and its
// defaults. Loaders in the sub-packages populate it from a YAML file and the
// environment.
package config

import (
	"time"

	"github.com/ahrav/sonolive/internal/infra/upstream/deezer"
	"github.com/ahrav/sonolive/internal/infra/upstream/itunes"
	"github.com/ahrav/sonolive/internal/infra/upstream/lastfm"
	"github.com/ahrav/sonolive/internal/infra/upstream/listenbrainz"
	"github.com/ahrav/sonolive/internal/infra/upstream/musicbrainz"
	"github.com/ahrav/sonolive/internal/infra/upstream/openai"
	"github.com/ahrav/sonolive/internal/infra/upstream/youtube"
)

// Config represents the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Hub       HubConfig       `yaml:"hub"`
	Observer  ObserverConfig  `yaml:"observer"`

	Lidarr       LidarrConfig       `yaml:"lidarr"`
	LastFM       LastFMConfig       `yaml:"lastfm"`
	MusicBrainz  MusicBrainzConfig  `yaml:"musicbrainz"`
	ListenBrainz ListenBrainzConfig `yaml:"listenbrainz"`
	YouTube      YouTubeConfig      `yaml:"youtube"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Deezer       UpstreamConfig     `yaml:"deezer"`
	ITunes       UpstreamConfig     `yaml:"itunes"`
}

// ServerConfig holds the listeners and their timeouts.
type ServerConfig struct {
	APIHost            string        `yaml:"api_host" validate:"required"`
	DebugHost          string        `yaml:"debug_host"`
	ReadTimeout        time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

// TelemetryConfig configures trace and metric export. An empty
// ExporterEndpoint disables export.
type TelemetryConfig struct {
	ServiceName      string  `yaml:"service_name" validate:"required"`
	ExporterEndpoint string  `yaml:"exporter_endpoint"`
	Probability      float64 `yaml:"probability" validate:"gte=0,lte=1"`
	Insecure         bool    `yaml:"insecure"`
}

// LogConfig sets the minimum level written.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// AuthConfig lists the API tokens allowed to attach as observers.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens" validate:"dive"`
}

// TokenConfig maps one token to the principal it authenticates.
type TokenConfig struct {
	Token  string `yaml:"token" validate:"required"`
	UserID string `yaml:"user_id" validate:"required"`
	Role   string `yaml:"role" validate:"oneof=user admin"`
}

// SessionConfig tunes the discovery session.
type SessionConfig struct {
	BatchSize                    int           `yaml:"batch_size" validate:"gt=0"`
	MaxCandidates                int           `yaml:"max_candidates" validate:"gt=0"`
	MaxParallelBatches           int           `yaml:"max_parallel_batches" validate:"gt=0"`
	ConnectivityFailureThreshold int           `yaml:"connectivity_failure_threshold" validate:"gt=0"`
	ActionTimeout                time.Duration `yaml:"action_timeout" validate:"gt=0"`
	SimilarPerSeed               int           `yaml:"similar_per_seed" validate:"gt=0"`
	PageSize                     int           `yaml:"page_size" validate:"gt=0"`
	ExpansionCacheTTL            time.Duration `yaml:"expansion_cache_ttl" validate:"gte=0"`
}

// HubConfig controls per-observer buffering.
type HubConfig struct {
	QueueSize      int           `yaml:"queue_size" validate:"gt=0"`
	OverflowPolicy string        `yaml:"overflow_policy" validate:"oneof=disconnect drop_oldest"`
	WriteWait      time.Duration `yaml:"write_wait" validate:"gt=0"`
	PongWait       time.Duration `yaml:"pong_wait" validate:"gt=0"`
}

// ObserverConfig configures the command-line observer client.
type ObserverConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	DebounceWindow time.Duration `yaml:"debounce_window" validate:"gt=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
}

// UpstreamConfig is the transport shared by every upstream service.
type UpstreamConfig struct {
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	RPS        float64       `yaml:"rps" validate:"gt=0"`
	Burst      int           `yaml:"burst" validate:"gt=0"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// LidarrConfig configures the library catalogue.
type LidarrConfig struct {
	HTTP                   UpstreamConfig `yaml:"http"`
	APIKey                 string         `yaml:"api_key"`
	RootFolderPath         string         `yaml:"root_folder_path"`
	QualityProfileID       int            `yaml:"quality_profile_id" validate:"gte=0"`
	MetadataProfileID      int            `yaml:"metadata_profile_id" validate:"gte=0"`
	Monitored              bool           `yaml:"monitored"`
	MonitorOption          string         `yaml:"monitor_option"`
	AlbumsToMonitor        []string       `yaml:"albums_to_monitor"`
	MonitorNewItems        string         `yaml:"monitor_new_items"`
	SearchForMissingAlbums bool           `yaml:"search_for_missing_albums"`
	DryRun                 bool           `yaml:"dry_run"`
	CacheTTL               time.Duration  `yaml:"cache_ttl" validate:"gte=0"`
}

// LastFMConfig configures similarity lookups and the Last.fm personal source.
type LastFMConfig struct {
	HTTP     UpstreamConfig `yaml:"http"`
	APIKey   string         `yaml:"api_key"`
	Username string         `yaml:"username"`
}

// MusicBrainzConfig configures artist id resolution.
type MusicBrainzConfig struct {
	HTTP UpstreamConfig `yaml:"http"`
	// UserAgent identifies the service; MusicBrainz rejects anonymous clients.
	UserAgent           string `yaml:"user_agent" validate:"required"`
	FallbackToTopResult bool   `yaml:"fallback_to_top_result"`
}

// ListenBrainzConfig configures the ListenBrainz personal source.
type ListenBrainzConfig struct {
	HTTP        UpstreamConfig `yaml:"http"`
	Enabled     bool           `yaml:"enabled"`
	Username    string         `yaml:"username"`
	VerifyUsers bool           `yaml:"verify_users"`
}

// YouTubeConfig configures video samples.
type YouTubeConfig struct {
	HTTP   UpstreamConfig `yaml:"http"`
	APIKey string         `yaml:"api_key"`
}

// OpenAIConfig configures prompt seeding against any OpenAI-compatible
// endpoint. Prompt seeding is off unless an API key or a non-default base URL
// is set.
type OpenAIConfig struct {
	HTTP         UpstreamConfig    `yaml:"http"`
	APIKey       string            `yaml:"api_key"`
	Model        string            `yaml:"model"`
	ExtraHeaders map[string]string `yaml:"extra_headers"`
	MaxSeeds     int               `yaml:"max_seeds" validate:"gte=0"`
	Temperature  float64           `yaml:"temperature" validate:"gte=0,lte=2"`
}

// Enabled reports whether prompt seeding can reach a model.
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != "" || (c.HTTP.BaseURL != "" && c.HTTP.BaseURL != openai.DefaultBaseURL)
}

func upstream(baseURL string, rps float64) UpstreamConfig {
	return UpstreamConfig{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		RPS:        rps,
		Burst:      1,
		MaxRetries: 3,
	}
}

// Default returns a configuration with every default applied. Loaders start
// from it so a file only needs to name what it changes.
func Default() Config {
	return Config{
		Server: ServerConfig{
			APIHost:         "0.0.0.0:5000",
			DebugHost:       "0.0.0.0:5010",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "sonolive",
			Probability: 0.05,
			Insecure:    true,
		},
		Log: LogConfig{Level: "info"},
		Session: SessionConfig{
			BatchSize:                    10,
			MaxCandidates:                500,
			MaxParallelBatches:           4,
			ConnectivityFailureThreshold: 2,
			ActionTimeout:                30 * time.Second,
			SimilarPerSeed:               100,
			PageSize:                     10,
			ExpansionCacheTTL:            30 * time.Minute,
		},
		Hub: HubConfig{
			QueueSize:      256,
			OverflowPolicy: "disconnect",
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
		},
		Observer: ObserverConfig{
			URL:            "ws://localhost:5000/v1/ws",
			DebounceWindow: 750 * time.Millisecond,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Lidarr: LidarrConfig{
			HTTP:              upstream("http://localhost:8686", 5),
			RootFolderPath:    "/data/media/music/",
			QualityProfileID:  1,
			MetadataProfileID: 1,
			Monitored:         true,
			MonitorOption:     "all",
			MonitorNewItems:   "all",
			CacheTTL:          5 * time.Minute,
		},
		LastFM: LastFMConfig{HTTP: upstream(lastfm.DefaultBaseURL, 5)},
		MusicBrainz: MusicBrainzConfig{
			HTTP:      upstream(musicbrainz.DefaultBaseURL, 1),
			UserAgent: "sonolive/0.1 ( https://github.com/ahrav/sonolive )",
		},
		ListenBrainz: ListenBrainzConfig{HTTP: upstream(listenbrainz.DefaultBaseURL, 2)},
		YouTube:      YouTubeConfig{HTTP: upstream(youtube.DefaultBaseURL, 5)},
		OpenAI: OpenAIConfig{
			HTTP:        upstream(openai.DefaultBaseURL, 1),
			Model:       openai.DefaultModel,
			MaxSeeds:    openai.DefaultMaxSeeds,
			Temperature: 0.7,
		},
		Deezer: upstream(deezer.DefaultBaseURL, 10),
		ITunes: upstream(itunes.DefaultBaseURL, 5),
	}
}
