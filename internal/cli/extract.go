package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/extract"
)

func init() {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract memories from pending diary entries",
		Long: "Run extraction over every pending entry, or the entries given with --entry. " +
			"Interrupting stops before the next entry; memories already extracted are kept.",
		Run: runExtract,
	}

	cmd.Flags().StringSliceP("entry", "e", nil, "Entry ids to (re)extract")
	cmd.Flags().BoolP("quiet", "q", false, "Do not print progress")

	RootCmd.AddCommand(cmd)
}

func runExtract(cmd *cobra.Command, args []string) {
	ids, _ := cmd.Flags().GetStringSlice("entry")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := openApp(cmd)
	defer a.Close()

	progress := func(processed, total int) {
		if !quiet {
			fmt.Fprintf(os.Stderr, "\rextracting %d/%d", processed, total)
			if processed == total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	var report extract.BatchReport
	if len(ids) > 0 {
		report = a.Processor.ExtractBatch(ctx, ids, progress)
	} else {
		var err error
		report, err = a.ExtractPending(ctx, progress)
		if err != nil {
			exitErr("extract", err)
		}
	}
	if report.Canceled && !quiet {
		fmt.Fprintln(os.Stderr)
	}

	printJSON(cmd.OutOrStdout(), report)
}
