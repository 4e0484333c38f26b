package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/flowenv/pkg/engine"
)

func newExecuteCommand() *cobra.Command {
	var (
		store    storageFlags
		flowFile string
		executor string
		params   map[string]string
		runID    string
	)

	cmd := &cobra.Command{
		Use:   "execute [flow-location]",
		Short: "Execute a packaged flow",
		Long: `Execute a flow packaged into a Docker image.

The flow is read from the configured flow file path, which defaults to
/root/.prefect/flow_env.prefect. The flow location argument names the flow
in logs and history; it defaults to the flow file path.

Only Docker storage is supported. Other descriptors are rejected before the
flow file is read.`,
		Example: `  # Execute the flow baked into the current image
  flowenv execute --image etl --tag v1

  # Execute with a storage descriptor and a parameter override
  flowenv execute --storage storage.yaml --param region=eu-west-1

  # Use the parallel executor and keep history
  flowenv execute --image etl --executor parallel --db history.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			descriptor, err := store.resolve()
			if err != nil {
				return err
			}

			rc, err := loadRunContext(ctx)
			if err != nil {
				return err
			}
			if flowFile != "" {
				rc.FlowFilePath = flowFile
			}
			if executor != "" {
				rc.Engine.Executor = executor
			}

			location := rc.ResolveFlowFilePath()
			if len(args) > 0 {
				location = args[0]
			}

			kwargs := map[string]interface{}{}
			if len(params) > 0 {
				overrides := make(map[string]interface{}, len(params))
				for k, v := range params {
					overrides[k] = v
				}
				kwargs[engine.KwargParameters] = overrides
			}
			if runID != "" {
				kwargs[engine.KwargRunID] = runID
			}

			history, err := openStore(ctx)
			if err != nil {
				return err
			}
			if history != nil {
				defer history.Close()
			}

			tel, err := newTelemetry("")
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			printEvents(tel, cmd.ErrOrStderr())

			env := newEnvironment(tel, nil)
			report, runErr := env.Run(ctx, descriptor, location, rc, kwargs)

			recordRun(ctx, history, report, runErr)

			if err := writeReport(cmd.OutOrStdout(), report, runErr); err != nil {
				return err
			}
			if runErr != nil {
				cmd.SilenceUsage = true
			}
			return runErr
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&flowFile, "flow-file", "", "path of the serialized flow, overrides the configuration")
	cmd.Flags().StringVar(&executor, "executor", "", "executor name (local, parallel)")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "flow parameter override (key=value)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier, generated when empty")

	return cmd
}
