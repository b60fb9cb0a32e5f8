// Package cli implements the aime CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/rcliao/aime/internal/config"
	"github.com/rcliao/aime/internal/engine"
	"github.com/rcliao/aime/internal/logging"
)

var (
	configPath  string
	dbPath      string
	backendFlag string
	verbose     bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "aime",
	Short: "Local conversation memory",
	Long: "Capture conversation turns into sessions, then search, merge and export them. " +
		"Everything stays on this machine.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $AIME_CONFIG or ~/.aime/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $AIME_DB or ~/.aime/memory.db)")
	RootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Storage backend: sqlite or badger")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *log.Logger {
	l := logging.New(os.Stderr, cfg.LogLevel)
	if verbose {
		logging.SetVerbose(l, true)
	}
	return l
}

func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.Open(ctx, cfg, newLogger(cfg))
}

// withEngine opens the engine, runs fn and closes the engine, exiting on error.
func withEngine(cmd *cobra.Command, fn func(e *engine.Engine) error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEngine(ctx)
	if err != nil {
		exitErr("open engine", err)
	}
	runErr := fn(e)
	if err := e.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close engine: %v\n", err)
	}
	if runErr != nil {
		exitErr(cmd.Name(), runErr)
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	code := engine.ErrorCode(err)
	if code != "" && code != "internal" {
		fmt.Fprintf(os.Stderr, "error: %s: [%s] %v\n", msg, code, err)
	} else {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	}
	os.Exit(1)
}
