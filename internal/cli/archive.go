package cli

import (
	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "List archived memories",
		Long:  "List memories archived to stay under the limit, newest archive first. Use --batches for batch records.",
		Run:   runArchive,
	}

	cmd.Flags().Bool("batches", false, "List archive batches instead of memories")

	RootCmd.AddCommand(cmd)
}

func runArchive(cmd *cobra.Command, args []string) {
	batches, _ := cmd.Flags().GetBool("batches")

	a := openApp(cmd)
	defer a.Close()

	if batches {
		out := a.Store.Batches()
		if out == nil {
			out = []model.ArchiveBatch{}
		}
		printJSON(cmd.OutOrStdout(), out)
		return
	}

	archived, err := a.Store.Archived(cmd.Context())
	if err != nil {
		exitErr("archive", err)
	}
	if archived == nil {
		archived = []model.Memory{}
	}
	printJSON(cmd.OutOrStdout(), archived)
}
