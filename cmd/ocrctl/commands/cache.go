package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/ui"
	"github.com/QThans/MinerU-runpod/internal/cache"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

var purgeScope string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared result cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove cached extraction results from Redis",
	Long: `Remove cached extraction results so the next request re-runs the engine.

Only the redis driver is shared with a running server; the memory cache lives
inside the server process and is cleared by restarting it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := scopeFor(purgeScope)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Cache.Driver != "redis" {
			return fmt.Errorf("cache driver is %q; purge needs the redis driver", cfg.Cache.Driver)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		client, err := cache.NewFromConfig(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
		defer client.Close()

		if err := purge(ctx, client, scope); err != nil {
			return err
		}
		ui.Success("Purged %s results from %s", purgeScope, cfg.Cache.Redis.Addr)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().StringVar(&purgeScope, "scope", "all", "which results to purge: all, refs or uploads")
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

// scopeFor maps the --scope flag to a result key scope.
func scopeFor(flag string) (string, error) {
	switch flag {
	case "all":
		return "", nil
	case "refs":
		return cache.ScopeReference, nil
	case "uploads":
		return cache.ScopeContent, nil
	default:
		return "", fmt.Errorf("invalid scope %q: use all, refs or uploads", flag)
	}
}

func purge(ctx context.Context, client cache.Client, scope string) error {
	results := cache.NewResults(client, 0, observability.Nop())
	if err := results.Purge(ctx, scope); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}
