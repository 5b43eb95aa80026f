package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
)

// Validate checks that the configuration is usable for the given mode
// ("discover" or "serve"). Missing credentials produce a configuration
// StageError so callers can stop before any provider call.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "discover", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if strings.TrimSpace(c.Anthropic.Key) == "" {
		errs = append(errs, "anthropic.key is required")
	}

	switch c.Search.GroundedProvider {
	case "anthropic", "perplexity", "none":
	default:
		errs = append(errs, fmt.Sprintf("search.grounded_provider must be anthropic, perplexity or none (got %q)", c.Search.GroundedProvider))
	}
	if c.Search.GroundedProvider == "perplexity" && c.Perplexity.Key == "" {
		errs = append(errs, "perplexity.key is required when search.grounded_provider is perplexity")
	}

	switch c.Store.Driver {
	case "sqlite", "none", "":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Structure.MaxInputChars < 0 {
		errs = append(errs, "structure.max_input_chars must be >= 0")
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, "retry.max_attempts must be between 0 and 10")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		errs = append(errs, "retry.jitter_fraction must be between 0 and 1")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return model.NewStageError(model.KindConfiguration, strings.Join(errs, "; "), nil)
	}
	return nil
}

// MaskKey returns a display-safe form of an API key showing only its last
// four characters.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 4 {
		return "…" + strings.Repeat("*", len(key))
	}
	return "…" + key[len(key)-4:]
}

// Masked returns a copy of the config with every credential masked, for display.
func (c Config) Masked() Config {
	c.Anthropic.Key = MaskKey(c.Anthropic.Key)
	c.Perplexity.Key = MaskKey(c.Perplexity.Key)
	c.SerpAPI.Key = MaskKey(c.SerpAPI.Key)
	c.Google.Key = MaskKey(c.Google.Key)
	c.Redis.Password = MaskKey(c.Redis.Password)
	c.Notion.Token = MaskKey(c.Notion.Token)
	if c.Store.DatabaseURL != "" {
		c.Store.DatabaseURL = MaskKey(c.Store.DatabaseURL)
	}
	return c
}
