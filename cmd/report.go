package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/assetsmith/internal/report"
)

var reportOut string

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Write a run's manifest and spend summary as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		out := reportOut
		if out == "" {
			out = args[0] + ".xlsx"
		}
		if err := report.Write(ctx, st, args[0], out); err != nil {
			return eris.Wrap(err, "report")
		}

		fmt.Fprintln(os.Stdout, out)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "", "output path (default <run-id>.xlsx)")
	rootCmd.AddCommand(reportCmd)
}
