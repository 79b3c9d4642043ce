package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Assemble memories for a conversation",
		Long: "Select the top memories (pinned first, then by importance with a recency bonus) and " +
			"format them as a context block for the companion model.",
		Run: runContext,
	}

	cmd.Flags().Int("k", 0, "Number of memories (default: retrieval.default_k)")
	cmd.Flags().Bool("scored", false, "Output the ranked memories with scores as JSON")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	k, _ := cmd.Flags().GetInt("k")
	scored, _ := cmd.Flags().GetBool("scored")
	if !cmd.Flags().Changed("k") {
		k = cfg.Retrieval.DefaultK
	}

	a := openApp(cmd)
	defer a.Close()

	if scored {
		out := a.Retriever.SelectScored(k)
		if out == nil {
			out = []retrieve.Scored{}
		}
		printJSON(cmd.OutOrStdout(), out)
		return
	}

	fmt.Fprint(cmd.OutOrStdout(), retrieve.Format(a.Retriever.Select(k)))
}
