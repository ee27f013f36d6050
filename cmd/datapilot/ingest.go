package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/datapilot"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Load documentation into the configured corpus",
	Long: `Chunks, embeds and stores documentation files. Directories are walked
for .md, .txt, .rst and .sql files. Without arguments the configured
corpus.sources are ingested.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSystem(cmd.Context(), func(sys *datapilot.System) error {
			paths := args
			if len(paths) == 0 {
				paths = sys.Config.Corpus.Sources
			}
			if len(paths) == 0 {
				return fmt.Errorf("no paths given and corpus.sources is empty")
			}
			stats, err := sys.Ingest(cmd.Context(), paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d files, %d chunks into %q in %s\n",
				stats.Files, stats.Chunks, sys.Config.Capabilities.Docs.Corpus, stats.Duration)
			return nil
		})
	},
}
