// Package endpoint maps logical SDK operations to base URLs for the staging
// and production environments.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Environment names one of the two backend deployments.
type Environment string

const (
	// Staging is selected when the SDK runs in test mode.
	Staging Environment = "staging"
	// Production is the default environment.
	Production Environment = "production"
)

// Category groups operations by the host that serves them.
type Category int

const (
	// CategoryAPI covers registration, token minting, show details and view
	// counting.
	CategoryAPI Category = iota
	// CategoryAssets covers static media (show thumbnails, share pages).
	CategoryAssets
	// CategoryCollector covers analytics events.
	CategoryCollector
	// CategoryEvents covers live event status and the chat transport.
	CategoryEvents
)

func (c Category) String() string {
	switch c {
	case CategoryAPI:
		return "api"
	case CategoryAssets:
		return "assets"
	case CategoryCollector:
		return "collector"
	case CategoryEvents:
		return "events"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Config is the set of base URLs for one environment.
type Config struct {
	BaseURL      string
	AssetsURL    string
	CollectorURL string
	EventsURL    string
}

var (
	stagingConfig = Config{
		BaseURL:      "https://staging.cms.talkshop.live",
		AssetsURL:    "https://assets-dev.talkshop.live",
		CollectorURL: "https://staging.collector.talkshop.live",
		EventsURL:    "https://staging.events.talkshop.live",
	}
	productionConfig = Config{
		BaseURL:      "https://cms.talkshop.live",
		AssetsURL:    "https://assets.talkshop.live",
		CollectorURL: "https://collector.talkshop.live",
		EventsURL:    "https://events.talkshop.live",
	}
)

// ForTestMode returns the environment selected by the SDK test-mode flag.
func ForTestMode(testMode bool) Environment {
	if testMode {
		return Staging
	}
	return Production
}

// ConfigFor returns the immutable endpoint set for env.
func ConfigFor(env Environment) (Config, error) {
	switch env {
	case Staging:
		return stagingConfig, nil
	case Production:
		return productionConfig, nil
	default:
		return Config{}, fmt.Errorf("unknown environment %q", env)
	}
}

// Resolver resolves base URLs from a Config chosen once at construction.
type Resolver struct {
	env Environment
	cfg Config
}

// NewResolver returns a Resolver for env.
func NewResolver(env Environment) (*Resolver, error) {
	cfg, err := ConfigFor(env)
	if err != nil {
		return nil, err
	}
	return &Resolver{env: env, cfg: cfg}, nil
}

// NewResolverWithConfig returns a Resolver pinned to an explicit Config.
// Tests use it to point the SDK at an httptest server. Every URL must be
// absolute.
func NewResolverWithConfig(env Environment, cfg Config) (*Resolver, error) {
	for _, raw := range []string{cfg.BaseURL, cfg.AssetsURL, cfg.CollectorURL, cfg.EventsURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid endpoint url %q", raw)
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AssetsURL = strings.TrimRight(cfg.AssetsURL, "/")
	cfg.CollectorURL = strings.TrimRight(cfg.CollectorURL, "/")
	cfg.EventsURL = strings.TrimRight(cfg.EventsURL, "/")
	return &Resolver{env: env, cfg: cfg}, nil
}

// Environment returns the environment this resolver was built for.
func (r *Resolver) Environment() Environment { return r.env }

// Config returns a copy of the endpoint set.
func (r *Resolver) Config() Config { return r.cfg }

// BaseURL returns the base URL serving operations of category c.
func (r *Resolver) BaseURL(c Category) string {
	switch c {
	case CategoryAssets:
		return r.cfg.AssetsURL
	case CategoryCollector:
		return r.cfg.CollectorURL
	case CategoryEvents:
		return r.cfg.EventsURL
	default:
		return r.cfg.BaseURL
	}
}

// URL joins the category base URL with path. path segments are expected to be
// escaped by the caller.
func (r *Resolver) URL(c Category, path string) string {
	return r.BaseURL(c) + "/" + strings.TrimLeft(path, "/")
}
