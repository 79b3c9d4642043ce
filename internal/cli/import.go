package cli

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from an export",
		Long: "Import active memories from a file or stdin, in the format produced by export. " +
			"Imported memories go through normal capacity enforcement; archived ones are skipped.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	cmd.Flags().StringP("format", "f", "", "Input format: json or yaml (default: from file extension, else json)")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")

	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open input", err)
		}
		defer f.Close()
		r = f
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(args[0]), ".")
		}
	}
	if format == "" {
		format = store.FormatJSON
	}

	payload, err := store.DecodeExport(r, format)
	if err != nil {
		exitErr("parse input", err)
	}

	a := openApp(cmd)
	defer a.Close()

	res, err := a.Store.Import(cmd.Context(), payload)
	if err != nil {
		exitErr("import", err)
	}

	printJSON(cmd.OutOrStdout(), res)
}
