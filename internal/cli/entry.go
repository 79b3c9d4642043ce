package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/app"
	"github.com/perpetual-s/gemi-memory/internal/model"
)

type entryOutput struct {
	Entry    *model.Entry   `json:"entry"`
	Memories []model.Memory `json:"memories"`
	Pending  bool           `json:"pending"`
}

func init() {
	entryCmd := &cobra.Command{
		Use:   "entry",
		Short: "Diary entry management",
	}

	addCmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Save a diary entry and extract memories from it",
		Long: "Save a diary entry. Text can be a positional arg or piped via stdin. " +
			"Extraction runs in the background; the command waits for it up to --wait " +
			"unless --no-extract is set. Entries not extracted stay pending for `extract` or the daemon.",
		Run: runEntryAdd,
	}
	addCmd.Flags().Bool("no-extract", false, "Save only; leave the entry pending")
	addCmd.Flags().Duration("wait", 2*time.Minute, "How long to wait for extraction")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List diary entries, newest first",
		Run:   runEntryList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	listCmd.Flags().Bool("pending", false, "Only entries not yet extracted, oldest first")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a diary entry and the memories extracted from it",
		Args:  cobra.ExactArgs(1),
		Run:   runEntryShow,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a diary entry",
		Long:  "Delete a diary entry. Memories extracted from it are kept.",
		Args:  cobra.ExactArgs(1),
		Run:   runEntryRm,
	}

	entryCmd.AddCommand(addCmd, listCmd, showCmd, rmCmd)
	RootCmd.AddCommand(entryCmd)
}

func runEntryAdd(cmd *cobra.Command, args []string) {
	noExtract, _ := cmd.Flags().GetBool("no-extract")
	wait, _ := cmd.Flags().GetDuration("wait")

	text := readContent(args)
	if text == "" {
		exitErr("entry add", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	a := openApp(cmd)
	defer a.Close()

	ctx := cmd.Context()
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if !noExtract {
		go a.Worker.Run(workerCtx)
	}

	e, err := a.Journal.Save(ctx, text)
	if err != nil {
		exitErr("entry add", err)
	}

	if !noExtract {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		if err := a.Worker.Wait(waitCtx); err != nil {
			logger.Warn("extraction still running, entry left pending", "entry", e.ID, "wait", wait)
		}
		cancel()
	}
	stopWorker()

	printJSON(cmd.OutOrStdout(), entryView(ctx, a, e.ID))
}

func runEntryList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	pending, _ := cmd.Flags().GetBool("pending")

	a := openApp(cmd)
	defer a.Close()

	var entries []model.Entry
	var err error
	if pending {
		entries, err = a.Journal.Pending(cmd.Context())
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	} else {
		entries, err = a.Journal.List(cmd.Context(), limit)
	}
	if err != nil {
		exitErr("entry list", err)
	}
	if entries == nil {
		entries = []model.Entry{}
	}

	printJSON(cmd.OutOrStdout(), entries)
}

func runEntryShow(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	printJSON(cmd.OutOrStdout(), entryView(cmd.Context(), a, args[0]))
}

func runEntryRm(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	if err := a.Journal.Delete(cmd.Context(), args[0]); err != nil {
		exitErr("entry rm", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func entryView(ctx context.Context, a *app.App, id string) entryOutput {
	e, err := a.Journal.Entry(ctx, id)
	if err != nil {
		exitErr("entry", err)
	}
	out := entryOutput{Entry: e, Memories: []model.Memory{}, Pending: e.ExtractedAt == nil}
	for _, m := range a.Store.Active() {
		if m.SourceEntryID == id {
			out.Memories = append(out.Memories, m)
		}
	}
	return out
}
