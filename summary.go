package testrunner

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testrunner/exitcodes"
)

// printSummary prints the outcome of a run to the configured output.
func (r *testRunner) printSummary(result *RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(fmt.Sprintf("Test Run %s (%s)", result.RunID, formatDuration(result.Duration)))

	t.AppendHeader(table.Row{"Step", "Detail", "Duration", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Detail", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
	})

	t.AppendRow(table.Row{
		"Resolve",
		fmt.Sprintf("%s (%d libraries)", result.Runner, result.Libraries),
		formatDuration(result.ResolutionDuration),
		"ok",
	})
	t.AppendRow(table.Row{
		"Run",
		fmt.Sprintf("%d tests", result.Tests),
		formatDuration(result.Duration - result.ResolutionDuration),
		exitStatus(result.ExitCode),
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Results", result.ResultFile, "", ""})
	t.AppendRow(table.Row{"Stdout", result.StdoutFile, "", ""})
	t.AppendRow(table.Row{"Stderr", result.StderrFile, "", ""})

	switch result.ExitCode {
	case exitcodes.Success:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case exitcodes.TestFailure:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{"EXIT CODE", result.ExitCode, formatDuration(result.Duration), exitStatus(result.ExitCode)})
	t.Render()
}

func exitStatus(code int) string {
	switch code {
	case exitcodes.Success:
		return "completed"
	case exitcodes.LaunchFailure:
		return "not started"
	default:
		return "failed"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
