package engine

import (
	"fmt"
	"time"

	"CascadeDetServer/config"
	iface "CascadeDetServer/interface"
)

const (
	BackendRemote = "remote"
)

// NewLoader returns the loader for the configured inference backend.
func NewLoader(cfg config.Backend) (iface.Loader, error) {
	switch cfg.Kind {
	case BackendRemote:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: inferenceBackend.url is required for the remote backend", config.ErrConfig)
		}
		return NewRemoteLoader(cfg.URL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("%w: unsupported inference backend %q", config.ErrConfig, cfg.Kind)
	}
}
