package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/platform"
)

// loadConfig reads the file named by --config, falling back to the
// environment.
func loadConfig(cmd *cobra.Command) (*common.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return common.LoadConfig(path)
}

// cliLogger keeps stdout for command output.
func cliLogger(cmd *cobra.Command, cfg *common.Config) *slog.Logger {
	return common.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel, "cardctl")
}

// withPlatform opens the platform for the duration of fn.
func withPlatform(cmd *cobra.Command, fn func(ctx context.Context, p *platform.Platform) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := platform.Open(ctx, cfg, cliLogger(cmd, cfg))
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(ctx, p)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
