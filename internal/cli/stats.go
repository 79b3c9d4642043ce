package cli

import (
	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

type statsOutput struct {
	DBPath   string             `json:"db_path"`
	Limit    int                `json:"memory_limit"`
	Memories model.MemoryStats  `json:"memories"`
	Archive  model.ArchiveStats `json:"archive"`
	Pending  int                `json:"pending_entries"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory and archive statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	pending, err := a.Journal.Pending(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(cmd.OutOrStdout(), statsOutput{
		DBPath:   a.KV.Path(),
		Limit:    a.Store.Limit(),
		Memories: a.Store.Stats(),
		Archive:  a.Store.ArchiveStats(),
		Pending:  len(pending),
	})
}
