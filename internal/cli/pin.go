package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pin <id>",
		Short: "Toggle whether a memory is pinned",
		Long:  "Pinned memories are never archived and always come first in context.",
		Args:  cobra.ExactArgs(1),
		Run:   runPin,
	}

	RootCmd.AddCommand(cmd)
}

func runPin(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	mem, err := a.Store.TogglePin(cmd.Context(), args[0])
	if err != nil {
		exitErr("pin", err)
	}

	printJSON(cmd.OutOrStdout(), mem)
}
