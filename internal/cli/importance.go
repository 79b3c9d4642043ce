package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "importance <id> <value>",
		Short: "Set a memory's importance",
		Long:  "Set importance from 1 to 5. Out-of-range values are clamped.",
		Args:  cobra.ExactArgs(2),
		Run:   runImportance,
	}

	RootCmd.AddCommand(cmd)
}

func runImportance(cmd *cobra.Command, args []string) {
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		exitErr("importance", fmt.Errorf("invalid value %q: %w", args[1], err))
	}

	a := openApp(cmd)
	defer a.Close()

	mem, err := a.Store.SetImportance(cmd.Context(), args[0], value)
	if err != nil {
		exitErr("importance", err)
	}

	printJSON(cmd.OutOrStdout(), mem)
}
