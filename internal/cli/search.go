package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search active memories by keyword",
		Long:  "Case-insensitive substring search over memory content, newest first.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	a := openApp(cmd)
	defer a.Close()

	results, err := a.Store.Search(query, limit)
	if err != nil {
		exitErr("search", err)
	}
	if results == nil {
		results = []model.Memory{}
	}

	printJSON(cmd.OutOrStdout(), results)
}
