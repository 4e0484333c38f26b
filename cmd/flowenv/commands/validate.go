package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flowenv/pkg/engine"
	"github.com/openfroyo/flowenv/pkg/environment"
	"github.com/openfroyo/flowenv/pkg/tasks"
)

func newValidateCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "validate [flow-file]",
		Short: "Validate a flow file and the run configuration",
		Long: `Validate a serialized flow without running it.

This command checks:
  - the run configuration (--config and FLOWENV_* variables)
  - that the flow file can be read and decoded
  - that the task graph is acyclic and every dependency exists
  - that every task kind has a handler`,
		Example: `  # Validate the configured flow file
  flowenv validate

  # Validate a file and print its task graph in DOT format
  flowenv validate ./etl.prefect --dot | dot -Tpng > etl.png`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			rc, err := loadRunContext(cmd.Context())
			if err != nil {
				return err
			}

			path := rc.ResolveFlowFilePath()
			if len(args) > 0 {
				path = args[0]
			}

			log.Debug().Str("path", path).Msg("Validating flow")

			flow, err := environment.NewLoader().Load(path)
			if err != nil {
				return err
			}

			handlers := tasks.DefaultRegistry(tasks.Options{})
			for _, task := range flow.Tasks {
				if _, ok := handlers.Get(task.Kind); !ok {
					return engine.NewLoadFailure(fmt.Sprintf("task %s has unknown kind %q", task.Name, task.Kind), nil).
						WithCode(engine.ErrCodeUnknownTaskKind).
						WithFlow(flow.Name).
						WithDetail("available", handlers.Kinds())
				}
			}

			builder := engine.NewDAGBuilder()
			graph, err := builder.BuildGraph(flow.Tasks)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case dot:
				fmt.Fprint(out, builder.ToDOT(flow.Name))
			case jsonOutput:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"flow":   flow.Name,
					"tasks":  len(flow.Tasks),
					"levels": graph.Levels,
					"valid":  true,
				})
			default:
				fmt.Fprintf(out, "flow %s is valid (%d tasks)\n", flow.Name, len(flow.Tasks))
				for i, level := range graph.Levels {
					fmt.Fprintf(out, "  level %d: %s\n", i, strings.Join(level, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the task graph in DOT format")

	return cmd
}
