package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "limit [n]",
		Short: "Show or change the memory limit",
		Long: "Without an argument, print the current limit. A new limit applies from the next insert; " +
			"pass --enforce to archive down to it immediately.",
		Args: cobra.MaximumNArgs(1),
		Run:  runLimit,
	}

	cmd.Flags().Bool("enforce", false, "Archive excess memories now")

	RootCmd.AddCommand(cmd)
}

func runLimit(cmd *cobra.Command, args []string) {
	enforce, _ := cmd.Flags().GetBool("enforce")

	a := openApp(cmd)
	defer a.Close()

	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			exitErr("limit", fmt.Errorf("invalid limit %q: %w", args[0], err))
		}
		if err := a.Store.SetLimit(cmd.Context(), n); err != nil {
			exitErr("limit", err)
		}
	}

	out := map[string]any{
		"limit":  a.Store.Limit(),
		"active": len(a.Store.Active()),
	}
	if enforce {
		batch, err := a.Store.EnforceNow(cmd.Context())
		if err != nil {
			exitErr("enforce", err)
		}
		if batch != nil {
			out["archived"] = batch
		}
		out["active"] = len(a.Store.Active())
	}

	printJSON(cmd.OutOrStdout(), out)
}
