package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/api"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/service"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

// NewServeCmd creates the 'serve' command that runs the HTTP API.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Example: `  fisioflow-ai serve
  FISIOFLOW_AI_SERVER_PORT=9090 fisioflow-ai serve --config ./config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting FisioFlow AI engine")

	svc, err := service.New(ctx, cfg, service.Options{})
	if err != nil {
		return fmt.Errorf("engine refused to start: %w", err)
	}
	defer svc.Close()

	srv := api.NewServer(svc, cfg.Server)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", addr))
		errCh <- srv.App.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("Server shutting down gracefully...")
	if err := srv.Shutdown(); err != nil {
		logger.Warn("Shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
	return nil
}
