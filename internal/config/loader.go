package config

import (
	"context"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so a file, the environment or both can back the service.
type Loader interface {
	// Load retrieves, defaults and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}
