package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autodev-ai/secgate/internal/audit"
	"github.com/autodev-ai/secgate/internal/config"
)

var verifyDir string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Long: `verify re-walks every audit segment and checks each record's hash
against its contents and its link to the previous record, plus the
seal of every rotated segment. Any tampering, truncation, or
reordering is reported with the offending record index.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := verifyDir
		if dir == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			dir = cfg.Audit.Dir
		}
		if err := audit.VerifyDir(dir); err != nil {
			return fmt.Errorf("audit chain verification failed: %w", err)
		}
		fmt.Printf("audit chain intact: %s\n", dir)
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyDir, "dir", "", "audit directory (default from config)")
	rootCmd.AddCommand(verifyCmd)
}
