package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewProvidersCmd groups the premium provider commands.
func NewProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Check premium providers and their quota usage",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Ping every configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			results := svc.TestAllProviders(cmd.Context())
			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			failed := 0
			for _, name := range names {
				mark := "ok"
				if !results[name] {
					mark = "unavailable"
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, mark)
			}
			if failed == len(names) {
				return fmt.Errorf("no provider is reachable")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show usage counters, status and breaker state per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return printJSON(cmd.OutOrStdout(), svc.GetProviderStats())
		},
	})
	return cmd
}
