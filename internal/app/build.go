// Package app assembles the jarvisd server from configuration: stores,
// the session registry, the upstream minter, the tool executor, and the
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/BricePourLe13/jarvis-voice/internal/config"
	"github.com/BricePourLe13/jarvis-voice/internal/gym"
	"github.com/BricePourLe13/jarvis-voice/internal/httpapi"
	"github.com/BricePourLe13/jarvis-voice/internal/observability"
	"github.com/BricePourLe13/jarvis-voice/internal/session"
	"github.com/BricePourLe13/jarvis-voice/internal/tools"
	"github.com/BricePourLe13/jarvis-voice/internal/upstream"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *session.Registry
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (DB pools).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	store, err := gym.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("directory store init failed: %w", err)
	}

	toolStore, err := tools.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("tool store init failed: %w", err)
	}

	// Query tools run against the same database that holds the tool
	// catalog; without one they stay unconfigured and report as such.
	var execOpts []tools.ExecutorOption
	if pg, ok := toolStore.(*tools.PostgresStore); ok {
		execOpts = append(execOpts, tools.WithQueryRunner(pg.Pool()))
	}
	executor := tools.NewExecutor(toolStore, execOpts...)

	minter, err := selectMinter(cfg)
	if err != nil {
		toolStore.Close()
		_ = store.Close()
		return nil, err
	}

	registry := session.NewRegistry(cfg.SessionIdleTTL)
	api := httpapi.New(cfg, store, registry, minter, executor, toolStore, metrics)
	registry.SetExpireHook(api.SettleExpired)
	registry.StartJanitor(ctx, cfg.JanitorInterval)

	cleanup := func() error {
		var errs []string
		toolStore.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: registry,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

// selectMinter picks the credential provider. "auto" uses OpenAI when a
// key is configured and the mock otherwise, so a bare checkout starts
// without credentials.
func selectMinter(cfg config.Config) (upstream.Minter, error) {
	switch cfg.UpstreamProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("UPSTREAM_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return upstream.NewOpenAIMinter(cfg.OpenAIAPIKey, upstream.WithBaseURL(cfg.OpenAIBaseURL)), nil
	case "mock":
		log.Printf("[app] using mock session minter")
		return upstream.NewMockMinter(), nil
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			return upstream.NewOpenAIMinter(cfg.OpenAIAPIKey, upstream.WithBaseURL(cfg.OpenAIBaseURL)), nil
		}
		log.Printf("[app] no OPENAI_API_KEY set, using mock session minter")
		return upstream.NewMockMinter(), nil
	}
}
