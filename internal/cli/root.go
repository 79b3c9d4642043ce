// Package cli implements the gemi-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/app"
	"github.com/perpetual-s/gemi-memory/internal/config"
	"github.com/perpetual-s/gemi-memory/internal/logging"
)

var (
	cfgFile  string
	dbPath   string
	logLevel string

	cfg    *config.Config
	logger *log.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "gemi-memory",
	Short: "Private long-term memory for an AI diary companion",
	Long: "Extracts durable memories from diary entries, keeps them under a capacity limit " +
		"by archiving the least important, and assembles them into conversation context. " +
		"Everything stays on this machine.",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.gemi-memory/config.yml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $GEMI_MEMORY_DB_PATH or ~/.gemi-memory/memory.db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func initConfig() {
	c, err := config.Load(cfgFile)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	cfg = c
	logger = logging.New(os.Stderr, cfg.LogLevel)
	if cfg.File != "" {
		logger.Debug("using config file", "path", cfg.File)
	}
}

func openApp(cmd *cobra.Command) *app.App {
	a, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		exitErr("open", err)
	}
	return a
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

// readContent joins args, or reads piped stdin when there are none.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " "))
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return strings.TrimSpace(string(b))
	}
	return ""
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
