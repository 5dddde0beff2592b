// Package cli is the operator command line: the HTTP server plus one-shot
// cache and regeneration commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/engine"
	"github.com/CodeTease/wmcache/pkg/logger"
)

// Execute runs the root command.
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

func NewRootCmd(version string) *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "wmcache",
		Short:         "Watermark generation and caching engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.LoadConfig()
			logger.Init(cfg.Debug)
		},
	}

	cfgFn := func() config.Config { return cfg }
	root.AddCommand(
		newServeCmd(cfgFn, version),
		newStatsCmd(cfgFn),
		newCleanupCmd(cfgFn),
		newRegenerateCmd(cfgFn),
		newStatusCmd(cfgFn),
		newSettingsCmd(cfgFn),
		newGenerateCmd(cfgFn),
	)
	return root
}

// withEngine builds an engine with running workers for a one-shot command
// and drains it afterwards.
func withEngine(ctx context.Context, cfg config.Config, fn func(*engine.Engine) error) error {
	e, err := engine.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	e.Start(ctx)
	defer e.Stop()
	return fn(e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
