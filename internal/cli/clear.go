package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every active memory",
		Long:  "Delete every active memory, pinned ones included. The archive is kept.",
		Run:   runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm deletion")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("clear", errors.New("refusing to delete all memories without --yes"))
	}

	a := openApp(cmd)
	defer a.Close()

	n, err := a.Store.ClearAll(cmd.Context())
	if err != nil {
		exitErr("clear", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deleted":%d}`+"\n", n)
}
