package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/model"
	"github.com/perpetual-s/gemi-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a memory directly",
		Long: "Store a memory the user stated directly. Content can be a positional arg or piped via stdin. " +
			"If the store is full, the least important unpinned memories are archived first.",
		Run: runAdd,
	}

	cmd.Flags().String("type", string(model.TypeUserProvided), "Type: conversation, journal_fact, user_provided, reflection, conversation_fact")
	cmd.Flags().Float64P("importance", "i", model.DefaultImportance, "Importance from 1 (trivia) to 5 (core fact)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().BoolP("pin", "p", false, "Pin the memory so it is never archived")
	cmd.Flags().String("source", "", "Id of the diary entry this came from")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	typStr, _ := cmd.Flags().GetString("type")
	importance, _ := cmd.Flags().GetFloat64("importance")
	tagsStr, _ := cmd.Flags().GetString("tags")
	pin, _ := cmd.Flags().GetBool("pin")
	source, _ := cmd.Flags().GetString("source")

	content := readContent(args)
	if content == "" {
		exitErr("add", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	typ, ok := model.ParseType(typStr)
	if !ok {
		exitErr("add", fmt.Errorf("%w: %q", store.ErrInvalidType, typStr))
	}

	a := openApp(cmd)
	defer a.Close()

	mem, err := a.Store.Insert(cmd.Context(), store.InsertParams{
		Content:       content,
		Type:          typ,
		Importance:    importance,
		Tags:          splitTags(tagsStr),
		SourceEntryID: source,
		Pinned:        pin,
	})
	if err != nil {
		exitErr("add", err)
	}

	printJSON(cmd.OutOrStdout(), mem)
}
