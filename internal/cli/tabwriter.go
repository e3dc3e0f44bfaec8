package cli

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTabWriter(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
}
