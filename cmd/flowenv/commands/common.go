package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/flowenv/pkg/config"
	"github.com/openfroyo/flowenv/pkg/environment"
	"github.com/openfroyo/flowenv/pkg/storage"
	"github.com/openfroyo/flowenv/pkg/stores"
	"github.com/openfroyo/flowenv/pkg/tasks"
	"github.com/openfroyo/flowenv/pkg/telemetry"
)

// historyTimeout bounds saving one run to history.
const historyTimeout = 5 * time.Second

// storageFlags describe the storage of a flow on the command line.
type storageFlags struct {
	descriptor string
	registry   string
	image      string
	tag        string
}

func (f *storageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.descriptor, "storage", "", "storage descriptor file (YAML)")
	cmd.Flags().StringVar(&f.registry, "registry", "", "image registry, used with --image")
	cmd.Flags().StringVar(&f.image, "image", "", "name of the image the flow was packaged into")
	cmd.Flags().StringVar(&f.tag, "tag", "", "image tag, used with --image")
}

// resolve returns the descriptor named on the command line.
// Descriptors of any kind are returned; the environment decides what it accepts.
func (f *storageFlags) resolve() (storage.Storage, error) {
	if f.descriptor != "" {
		file, err := os.Open(f.descriptor)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage descriptor: %w", err)
		}
		defer file.Close()
		return storage.Decode(file)
	}

	if f.image == "" {
		return nil, fmt.Errorf("either --storage or --image is required")
	}
	d := storage.NewDocker(f.registry, f.image, f.tag)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// newTelemetry builds the telemetry of one command from the global flags.
// An empty metricsAddr leaves metrics disabled.
func newTelemetry(metricsAddr string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
		if v, err := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); err == nil {
			cfg.Tracing.Insecure = v
		}
	}

	return telemetry.NewTelemetry(cfg)
}

// newEnvironment wires a SlimEnvironment to tel.
func newEnvironment(tel *telemetry.Telemetry, hook environment.StageHook) *environment.SlimEnvironment {
	return environment.NewSlimEnvironment(environment.Options{
		Logger:    tel.Logger,
		Registry:  environment.NewDefaultRegistry(tel, tasks.Options{}),
		Tracer:    tel.Tracer,
		Metrics:   tel.Metrics,
		StageHook: hook,
	})
}

// printEvents writes run events at --event-level or above to w while verbose
// output is on.
func printEvents(tel *telemetry.Telemetry, w io.Writer) {
	if !verbose || jsonOutput {
		return
	}
	var mu sync.Mutex
	tel.Events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case e.Task != "":
			fmt.Fprintf(w, "  %-20s %-24s %s\n", e.Type, e.Task, e.Message)
		default:
			fmt.Fprintf(w, "%-22s %s\n", e.Type, e.Message)
		}
	}, telemetry.FilterByLevel(eventLevel))
}

func loadRunContext(ctx context.Context) (*config.RunContext, error) {
	return config.Load(ctx, config.LoadOptions{Path: configPath})
}

// openStore opens the run history, or returns nil when --db is not set.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		return nil, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// recordRun saves the outcome of an execution to history. It still saves when
// ctx was cancelled by an interrupt.
func recordRun(ctx context.Context, history *stores.SQLiteStore, report *environment.RunReport, runErr error) {
	if history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := history.SaveRun(ctx, stores.RecordFromReport(report, runErr)); err != nil {
		log.Warn().Err(err).Msg("Failed to record run history")
	}
}

// writeReport prints the outcome of an execution.
func writeReport(w io.Writer, report *environment.RunReport, runErr error) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stores.RecordFromReport(report, runErr))
	}

	if report.State != nil {
		fmt.Fprintln(w, report.State.Summary())
	}
	if runErr != nil {
		fmt.Fprintf(w, "execution failed while %s: %v\n", report.FailedStage, runErr)
	}
	return nil
}
