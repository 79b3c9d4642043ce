package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/model"
	"github.com/perpetual-s/gemi-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active memories",
		Run:   runList,
	}

	cmd.Flags().String("type", "", "Filter by type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated, all must match)")
	cmd.Flags().Bool("pinned", false, "Only pinned memories (--pinned=false for unpinned only)")
	cmd.Flags().StringP("sort", "s", string(store.SortCreatedDesc), "Sort: created_desc, created_asc, importance_desc")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0 for all)")
	cmd.Flags().Bool("ids-only", false, "Only output memory ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	typStr, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	sortStr, _ := cmd.Flags().GetString("sort")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	params := store.ListParams{
		Tags:  splitTags(tagsStr),
		Sort:  store.SortBy(sortStr),
		Limit: limit,
	}
	if typStr != "" {
		typ, ok := model.ParseType(typStr)
		if !ok {
			exitErr("list", fmt.Errorf("%w: %q", store.ErrInvalidType, typStr))
		}
		params.Type = typ
	}
	if cmd.Flags().Changed("pinned") {
		pinned, _ := cmd.Flags().GetBool("pinned")
		params.Pinned = &pinned
	}

	a := openApp(cmd)
	defer a.Close()

	memories, err := a.Store.List(params)
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
		}
		return
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	printJSON(cmd.OutOrStdout(), memories)
}
