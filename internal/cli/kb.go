package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/ingestion"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

// NewKBCmd groups the knowledge base commands.
func NewKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the clinic knowledge base",
	}
	cmd.AddCommand(newKBImportCmd(), newKBStatsCmd())
	return cmd
}

func newKBImportCmd() *cobra.Command {
	var opts ingestion.Options
	var entryType string

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import HTML documents as knowledge entries",
		Example: `  fisioflow-ai kb import --tenant clinic-a protocolos/*.html
  fisioflow-ai kb import --tenant clinic-a --type exercise --author "Dra. Lima" --experience 12 ombro.html`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.TenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			opts.Type = models.EntryType(entryType)
			if opts.Type != "" && !opts.Type.Valid() {
				return fmt.Errorf("unknown entry type %q", entryType)
			}

			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			for _, path := range args {
				html, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				source := "file://" + filepath.ToSlash(path)
				id, err := svc.ImportDocument(cmd.Context(), source, string(html), opts)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", path, id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "Tenant (clinic) that owns the entries")
	cmd.Flags().StringVar(&entryType, "type", "", "Entry type; detected from the title when empty")
	cmd.Flags().StringVar(&opts.Author.Name, "author", "", "Author name")
	cmd.Flags().IntVar(&opts.Author.Experience, "experience", 0, "Author experience in years")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "Extra tag (repeatable)")
	return cmd
}

func newKBStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return printJSON(cmd.OutOrStdout(), svc.GetStatistics())
		},
	}
}
