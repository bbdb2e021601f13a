package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autodev-ai/secgate/internal/audit"
	"github.com/autodev-ai/secgate/internal/config"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		stats, err := audit.StatsDir(cfg.Audit.Dir)
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Printf("Events:   %d across %d segments\n", stats.Total, stats.Segments)
		if !stats.Oldest.IsZero() {
			fmt.Printf("Range:    %s - %s\n",
				stats.Oldest.Format("2006-01-02 15:04:05"),
				stats.Newest.Format("2006-01-02 15:04:05"))
		}
		fmt.Println("By outcome:")
		for outcome, n := range stats.ByOutcome {
			fmt.Printf("  %-14s %d\n", outcome, n)
		}
		fmt.Println("By type:")
		for typ, n := range stats.ByType {
			fmt.Printf("  %-20s %d\n", typ, n)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(statsCmd)
}
