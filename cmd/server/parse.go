package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"waqf-reconciliation-backend/internal/statement"
)

func parseCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "parse a bank statement and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			stmt, err := statement.Parse(statement.Format(format), f)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stmt)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "statement format (mt940, camt053, ofx); detected when empty")
	return cmd
}
