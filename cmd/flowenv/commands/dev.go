package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flowenv/pkg/environment"
	"github.com/openfroyo/flowenv/pkg/watch"
)

func newDevCommand() *cobra.Command {
	var (
		store       storageFlags
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Re-run a flow whenever its file changes",
		Long: `Run the configured flow once, then again every time the flow file is
written. Failed runs are reported and the command keeps watching until it is
interrupted.`,
		Example: `  # Re-run on change and expose metrics
  flowenv dev --image etl --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			descriptor, err := store.resolve()
			if err != nil {
				return err
			}
			rc, err := loadRunContext(ctx)
			if err != nil {
				return err
			}

			history, err := openStore(ctx)
			if err != nil {
				return err
			}
			if history != nil {
				defer history.Close()
			}

			tel, err := newTelemetry(metricsAddr)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			printEvents(tel, cmd.ErrOrStderr())

			if metricsAddr != "" {
				errCh, err := tel.StartMetricsServer()
				if err != nil {
					return err
				}
				go func() {
					for err := range errCh {
						log.Error().Err(err).Str("address", metricsAddr).Msg("Metrics server failed")
					}
				}()
				log.Info().Str("address", metricsAddr).Msg("Serving metrics")
			}

			path := rc.ResolveFlowFilePath()
			watcher, err := watch.New(path, watch.Options{Debounce: debounce, Logger: log.Logger})
			if err != nil {
				return err
			}

			env := newEnvironment(tel, func(stage environment.Stage) {
				log.Debug().Str("stage", stage.String()).Msg("Stage changed")
			})
			out := cmd.OutOrStdout()

			runOnce := func(ctx context.Context) error {
				report, runErr := env.Run(ctx, descriptor, path, rc, nil)
				recordRun(ctx, history, report, runErr)
				// The environment already logged a failed run.
				return writeReport(out, report, runErr)
			}

			if err := runOnce(ctx); err != nil {
				return err
			}

			log.Info().Str("path", watcher.Path()).Msg("Watching flow file")
			return watcher.Run(ctx, runOnce)
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, disabled when empty")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a change triggers a run")

	return cmd
}
