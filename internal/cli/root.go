// Package cli implements the courier command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/logging"
)

// app carries the state every command shares.
type app struct {
	configFile string
	logLevel   string
	logFormat  string
	storePath  string

	cfg      *config.Config
	contexts *config.ContextStore
}

// Execute runs the root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "courier",
		Short:         "Real-time messaging and notification sync engine",
		Long:          "courier keeps dashboard conversations, messages and notifications in sync with a document store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: ~/.config/courier/courier.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (console, json)")
	flags.StringVar(&a.storePath, "store-path", "", "SQLite database path")

	cmd.AddCommand(
		newServeCmd(a),
		newSeedCmd(a),
		newTokenCmd(a),
		newUseCmd(a),
		newWhoamiCmd(a),
		newSendCmd(a),
		newTailCmd(a),
		newInboxCmd(a),
		newUsersCmd(a),
	)
	return cmd
}

// load resolves configuration with flags taking precedence and initializes
// logging.
func (a *app) load() error {
	loader := config.NewLoader()
	if a.configFile != "" {
		loader.SetConfigFile(a.configFile)
	}
	if a.logLevel != "" {
		loader.Set("logging.level", a.logLevel)
	}
	if a.logFormat != "" {
		loader.Set("logging.format", a.logFormat)
	}
	if a.storePath != "" {
		loader.Set("store.path", a.storePath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.EnableCaller = cfg.Logging.EnableCaller
	logging.Init(logCfg)

	if used := loader.ConfigFileUsed(); used != "" {
		logging.Logger.Debug().Str("path", used).Msg("loaded config file")
	}

	contextPath := ""
	if cfg.Global.ConfigDir != "" {
		contextPath = filepath.Join(cfg.Global.ConfigDir, "context.yaml")
	}
	a.contexts = config.NewContextStore(contextPath)
	return nil
}

// actingUser returns the --as value, or the user selected with `courier use`.
func (a *app) actingUser(as string) (string, error) {
	as = strings.TrimSpace(as)
	if as != "" {
		return as, nil
	}
	ctx, err := a.contexts.Load()
	if err != nil {
		return "", err
	}
	if ctx.IsEmpty() {
		return "", fmt.Errorf("no user selected: pass --as or run `courier use <user>`")
	}
	return ctx.UserID, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
