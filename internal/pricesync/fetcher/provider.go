package fetcher

import (
	"errors"
	"fmt"

	"pricesync/config"
	"pricesync/pkg/eodhd"
)

// NewProvider builds the provider named in cfg. The EODHD key falls back to
// the configured SSM parameter when not set directly.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "eodhd":
		key := cfg.EODHD.APIKey
		if key == "" {
			key = config.GetParameterStoreValue(cfg.EODHD.APIKeyParameter, true)
		}
		if key == "" {
			return nil, errors.New("eodhd: api_key or api_key_parameter is required")
		}
		return &EODHD{
			Client:   eodhd.NewRESTClient(cfg.EODHD.BaseURL, key, cfg.Timeout),
			Exchange: cfg.EODHD.Exchange,
		}, nil
	case "alpaca":
		return NewAlpaca(cfg.Alpaca)
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Name)
}

// PolicyFrom returns the retry and timeout policy configured for providers.
func PolicyFrom(cfg config.ProviderConfig) Policy {
	return Policy{
		Timeout:         cfg.Timeout,
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
}
