package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkUser string

var checkCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Test a command name against the configured whitelist",
	Long: `check runs a command name through legacy validation: name format
and the whitelist's unknown/blocked rules, without session or rate
limit context. The check is recorded in the audit log like any other
validation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		application, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = application.shutdown(ctx) }()

		dec := application.manager.ValidateCommandOnly(ctx, checkUser, args[0])
		if dec.Allowed {
			fmt.Printf("allowed: %s (classification %s, risk %d)\n",
				args[0], dec.Classification, dec.Risk)
			return nil
		}
		return fmt.Errorf("denied: %s (%s)", args[0], dec.Reason)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkUser, "user", "cli", "user id recorded in the audit event")
	rootCmd.AddCommand(checkCmd)
}
