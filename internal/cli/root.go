// Package cli implements the adingest command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config    string
	Verbose   bool
	Format    string // "json" | "text"
	LogLevel  string
	LogFormat string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "adingest",
		Short: "Ad and affiliate report ingestion",
		Long: `adingest collects ad-network and affiliate reports on cron schedules,
turns cumulative click counters into timestamped events and keeps the
campaign, adgroup and ad master data in sync.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "adingest.yaml", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "override log format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// newLogger builds the process logger. Flags win over the config file;
// --verbose forces debug.
func newLogger(w io.Writer, opts *RootOptions, cfgLevel, cfgFormat string) (*slog.Logger, error) {
	levelName := cfgLevel
	if opts.LogLevel != "" {
		levelName = opts.LogLevel
	}
	if opts.Verbose {
		levelName = "debug"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", levelName)
	}

	format := cfgFormat
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
