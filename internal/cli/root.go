// Package cli implements the nautilus command-line interface.
//
// The daemon has a deliberately small surface: "serve" runs the
// orchestration daemon in the foreground, "version" prints build info.
// Everything else happens over the local HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ricardoborges/nautilus/internal/config"
)

// Global flags
var configFlag string

var rootCmd = &cobra.Command{
	Use:   "nautilus",
	Short: "Local session orchestration daemon for remote hosts",
	Long: `nautilus is the background daemon behind the desktop remote-host
manager. It keeps the connection registry and credential vault, owns
interactive terminal sessions and the metrics poller, and exposes a
local HTTP command endpoint plus a push event stream.

The daemon binds to loopback only and is meant to be launched by the
desktop shell, not used directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"config file (default ~/.config/nautilus/config.yaml)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the daemon logger from config. JSON to stderr by
// default; pretty console output is opt-in for interactive runs.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
