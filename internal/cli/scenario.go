package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/adingest/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter string
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport holds the overall result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <dir>",
		Short: "Replay reconciliation scenarios",
		Long: `Replay YAML reconciliation scenarios against an in-memory store and
check their expectations and assertions. No configuration file is read.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, malformed scenario)

Examples:
  adingest scenario ./scenarios
  adingest scenario ./scenarios --filter "counter_*" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenario files by glob pattern")
	return cmd
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir), err)
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	report := ScenarioReport{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		sc, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("load %s", file), err)
		}
		res, err := harness.Run(commandContext(cmd), sc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run %s", sc.Name), err)
		}
		report.Scenarios = append(report.Scenarios, ScenarioResult{Name: sc.Name, Pass: res.Pass, Errors: res.Errors})
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := out.Success(report, func(w io.Writer) error { return writeScenarioReport(w, report) }); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}

func findScenarioFiles(dir, filter string) ([]string, error) {
	pattern := "*.yaml"
	if filter != "" {
		pattern = filter
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if ext := filepath.Ext(m); ext == ".yaml" || ext == ".yml" {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func writeScenarioReport(w io.Writer, r ScenarioReport) error {
	if r.Total == 0 {
		_, err := fmt.Fprintln(w, "No scenarios found.")
		return err
	}
	for _, s := range r.Scenarios {
		mark := "PASS"
		if !s.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s\n", mark, s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "      %s\n", e)
		}
	}
	_, err := fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	return err
}
