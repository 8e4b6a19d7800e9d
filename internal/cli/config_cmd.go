package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/adingest/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

// ConfigReport summarizes a valid configuration.
type ConfigReport struct {
	Path     string         `json:"path"`
	Driver   string         `json:"driver"`
	Timezone string         `json:"timezone"`
	Families []FamilyReport `json:"families"`
}

// FamilyReport lists one family and the sources it runs.
type FamilyReport struct {
	Name        string   `json:"name"`
	Schedule    string   `json:"schedule"`
	MaxParallel int      `json:"max_parallel"`
	Sources     []string `json:"sources"`
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file without starting anything",
		Long: `Validate the configuration against its schema and cross-field rules
and print the families and sources it defines.

Exit codes:
  0 - Configuration is valid
  2 - Configuration is invalid or unreadable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(rootOpts, cmd.OutOrStdout())
		},
	}
}

func validateConfig(opts *RootOptions, w io.Writer) error {
	out := &OutputFormatter{Format: opts.Format, Writer: w}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = out.Error("E_INVALID_CONFIG", err.Error(), validationDetails(err))
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	report := buildConfigReport(opts.Config, cfg)
	return out.Success(report, func(w io.Writer) error {
		fmt.Fprintf(w, "%s is valid (%s, %s)\n", report.Path, report.Driver, report.Timezone)
		for _, f := range report.Families {
			schedule := f.Schedule
			if schedule == "" {
				schedule = "manual"
			}
			fmt.Fprintf(w, "  %s [%s] parallel=%d\n", f.Name, schedule, f.MaxParallel)
			for _, s := range f.Sources {
				fmt.Fprintf(w, "    - %s\n", s)
			}
		}
		return nil
	})
}

func buildConfigReport(path string, cfg *config.Config) ConfigReport {
	report := ConfigReport{
		Path:     path,
		Driver:   cfg.Database.Driver,
		Timezone: cfg.Timezone,
		Families: make([]FamilyReport, 0, len(cfg.Families)),
	}
	for _, f := range cfg.Families {
		fr := FamilyReport{Name: f.Name, Schedule: f.Schedule, MaxParallel: f.MaxParallel, Sources: []string{}}
		for _, s := range cfg.Sources {
			if s.Family == f.Name {
				fr.Sources = append(fr.Sources, fmt.Sprintf("%s (%s)", s.Name, s.Kind))
			}
		}
		report.Families = append(report.Families, fr)
	}
	return report
}

// validationDetails flattens every ValidationError in err's tree.
func validationDetails(err error) []config.ValidationError {
	var out []config.ValidationError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		switch u := err.(type) {
		case *config.ValidationError:
			out = append(out, *u)
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
