/*
fisioflow-ai answers clinical questions for a physiotherapy clinic at the
lowest possible cost: the clinic's own knowledge base first, then a tiered
response cache, then subscribed premium assistants within their quotas, and
a canned low-confidence answer when nothing else can.

Usage:

	fisioflow-ai [command]

Available Commands:

	serve       Run the HTTP and WebSocket API
	cache       Inspect or clear the response cache
	providers   Check premium providers and their quota usage
	kb          Manage the clinic knowledge base
	analytics   Usage, savings and alert reports
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fisioflow-ai",
		Short:         "Economical AI query engine for physiotherapy clinics",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cli.AddConfigFlag(rootCmd)

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewCacheCmd())
	rootCmd.AddCommand(cli.NewProvidersCmd())
	rootCmd.AddCommand(cli.NewKBCmd())
	rootCmd.AddCommand(cli.NewAnalyticsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
