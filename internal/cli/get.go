package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one active memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	mem, err := a.Store.Get(args[0])
	if err != nil {
		exitErr("get", err)
	}

	printJSON(cmd.OutOrStdout(), mem)
}
