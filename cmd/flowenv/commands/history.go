package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowenv/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		flowName string
		status   string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded executions",
		Long: `Show executions recorded with --db.

Without arguments the most recent runs are listed. With a run identifier the
run is shown with the outcome of each of its tasks.`,
		Example: `  # List the last 20 failed runs
  flowenv history --db history.db --status failed --limit 20

  # Show one run
  flowenv history --db history.db 3f1c2d4e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			switch stores.RunStatus(status) {
			case "", stores.RunStatusSucceeded, stores.RunStatusFailed:
			default:
				return fmt.Errorf("invalid status %q (succeeded, failed)", status)
			}

			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return encodeJSON(out, run)
				}
				printRun(out, run)
				return nil
			}

			runs, err := store.ListRuns(ctx, stores.RunFilter{
				FlowName: flowName,
				Status:   stores.RunStatus(status),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return encodeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-16s  %-20s  %s\n", "ID", "FLOW", "STATUS", "STAGE", "STARTED", "DURATION")
			for _, run := range runs {
				fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-16s  %-20s  %s\n",
					run.ID, run.FlowName, run.Status, run.Stage,
					run.StartedAt.Local().Format(time.DateTime), run.Duration().Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs to list")
	cmd.Flags().StringVar(&flowName, "flow", "", "only list runs of this flow")
	cmd.Flags().StringVar(&status, "status", "", "only list runs with this status (succeeded, failed)")

	return cmd
}

func printRun(w io.Writer, run *stores.RunRecord) {
	fmt.Fprintf(w, "Run:         %s\n", run.ID)
	fmt.Fprintf(w, "Environment: %s\n", run.EnvironmentID)
	fmt.Fprintf(w, "Flow:        %s (%s)\n", run.FlowName, run.FlowLocation)
	if run.ImageRef != "" {
		fmt.Fprintf(w, "Image:       %s\n", run.ImageRef)
	}
	fmt.Fprintf(w, "Engine:      %s/%s\n", run.Executor, run.Runner)
	fmt.Fprintf(w, "Status:      %s (stage %s)\n", run.Status, run.Stage)
	fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:    %s\n", run.Duration().Round(time.Millisecond))
	if run.Error != nil {
		class := ""
		if run.ErrorClass != nil {
			class = "[" + *run.ErrorClass + "] "
		}
		fmt.Fprintf(w, "Error:       %s%s\n", class, *run.Error)
	}

	if len(run.Tasks) == 0 {
		return
	}
	fmt.Fprintln(w, "Tasks:")
	for _, task := range run.Tasks {
		line := fmt.Sprintf("  %-24s %s", task.Task, task.Status)
		if task.Error != nil {
			line += ": " + *task.Error
		}
		fmt.Fprintln(w, line)
	}
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
