package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON or YAML",
		Long:  "Export active memories, archived memories and archive batches. Writes to stdout unless -o is given.",
		Run:   runExport,
	}

	cmd.Flags().StringP("format", "f", store.FormatJSON, "Output format: json or yaml")
	cmd.Flags().StringP("output", "o", "", "Write to a file")
	cmd.Flags().Bool("include-archived", true, "Include archived memories and batches")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	includeArchived, _ := cmd.Flags().GetBool("include-archived")

	a := openApp(cmd)
	defer a.Close()

	payload, err := a.Store.ExportAll(cmd.Context(), includeArchived)
	if err != nil {
		exitErr("export", err)
	}

	w := cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			exitErr("create output", err)
		}
		defer f.Close()
		w = f
	}

	if err := store.EncodeExport(w, payload, format); err != nil {
		exitErr("export", err)
	}
}
