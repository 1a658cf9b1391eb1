package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

// configPath is bound to the persistent --config flag.
var configPath string

// AddConfigFlag registers --config on the root command.
func AddConfigFlag(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: ./config.yaml, ./config/, /etc/fisioflow-ai/)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// openService builds the engine for a one-shot command. Background jobs are
// left off; the caller must Close it.
func openService(ctx context.Context) (*service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.New(ctx, cfg, service.Options{DisableJobs: true})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
