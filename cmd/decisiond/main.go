// Decisiond extracts structured decisions from AI coding-assistant
// conversation logs and stores them in PostgreSQL.
//
// Usage:
//
//	# Apply the database schema
//	decisiond migrate
//
//	# Extract one conversation file in-process
//	decisiond extract --file ~/.claude/projects/-Users-jane-app/abc.jsonl
//
//	# Run a Temporal worker for durable extraction
//	decisiond worker
//
//	# Watch session directories and sync changed conversations
//	decisiond watch
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/decisiond/internal/config"
	"github.com/fyrsmithlabs/decisiond/internal/conversation"
	"github.com/fyrsmithlabs/decisiond/internal/extraction"
	"github.com/fyrsmithlabs/decisiond/internal/logging"
	"github.com/fyrsmithlabs/decisiond/internal/pipeline"
	"github.com/fyrsmithlabs/decisiond/internal/storage"
	"github.com/fyrsmithlabs/decisiond/internal/telemetry"
	"github.com/fyrsmithlabs/decisiond/internal/watcher"
	"github.com/fyrsmithlabs/decisiond/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "decisiond",
		Short:         "Extract structured decisions from coding-assistant conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/decisiond/config.yaml)")

	root.AddCommand(
		newExtractCmd(&configPath),
		newWorkerCmd(&configPath),
		newWatchCmd(&configPath),
		newMigrateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and builds the logger shared by all commands.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newExtractCmd(configPath *string) *cobra.Command {
	var (
		file      string
		source    string
		orgID     string
		workspace string
		runID     string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract decisions from one conversation file in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			ctx, cancel := signalContext()
			defer cancel()

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading conversation file: %w", err)
			}

			db, err := storage.New(ctx, cfg.Database.DSN.Value(), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := extraction.NewClient(cfg.LLM)
			if err != nil {
				return err
			}

			if runID == "" {
				runID = uuid.NewString()
			}

			runner := pipeline.NewRunner(
				conversation.NewRegistry(),
				extraction.NewIdentifier(client, logger),
				extraction.NewExtractor(client, logger),
				db,
				db,
				cfg.Pipeline,
				logger,
			)

			result, err := runner.Run(ctx, pipeline.Input{
				RunID:       runID,
				OrgID:       orgID,
				WorkspaceID: workspace,
				Source:      conversation.Source(source),
				SourcePath:  file,
				Content:     content,
			})
			if err != nil {
				return err
			}

			fmt.Printf("conversation %s: %d decisions extracted\n", result.ConversationID, result.DecisionCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "conversation file to extract (required)")
	cmd.Flags().StringVar(&source, "source", string(conversation.SourceClaudeCode), "conversation source: claude-code, claude-web, cursor, other")
	cmd.Flags().StringVar(&orgID, "org", "default", "organization id")
	cmd.Flags().StringVar(&workspace, "workspace", "default", "workspace id")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id; reuse one to resume a failed run")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker serving extraction workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			ctx, cancel := signalContext()
			defer cancel()

			tel, err := telemetry.New(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("initializing telemetry: %w", err)
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()

			db, err := storage.New(ctx, cfg.Database.DSN.Value(), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := extraction.NewClient(cfg.LLM)
			if err != nil {
				return err
			}

			tc, err := temporalclient.Dial(temporalclient.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("connecting to temporal: %w", err)
			}
			defer tc.Close()

			activities := workflows.NewActivities(
				conversation.NewRegistry(),
				extraction.NewIdentifier(client, logger),
				extraction.NewExtractor(client, logger),
				db,
				cfg.Pipeline.WindowBuffer,
				logger,
			)

			w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{})
			w.RegisterWorkflow(workflows.ExtractionWorkflow)
			w.RegisterActivity(activities)

			logger.Info("worker starting",
				zap.String("task_queue", cfg.Temporal.TaskQueue),
				zap.String("namespace", cfg.Temporal.Namespace))
			return w.Run(worker.InterruptCh())
		},
	}
}

// workflowTrigger starts extraction workflows for the sync engine. The run
// id doubles as the workflow id, so duplicate triggers for the same content
// deduplicate on the Temporal side.
type workflowTrigger struct {
	client    temporalclient.Client
	taskQueue string
}

func (t *workflowTrigger) StartRun(ctx context.Context, input pipeline.Input) error {
	_, err := t.client.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        "extract-" + input.RunID,
		TaskQueue: t.taskQueue,
	}, workflows.ExtractionWorkflow, workflows.ExtractionInput{
		RunID:       input.RunID,
		OrgID:       input.OrgID,
		WorkspaceID: input.WorkspaceID,
		Source:      input.Source,
		SourcePath:  input.SourcePath,
		Content:     input.Content,
	})
	return err
}

func newWatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch session directories and sync changed conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			ctx, cancel := signalContext()
			defer cancel()

			db, err := storage.New(ctx, cfg.Database.DSN.Value(), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			tc, err := temporalclient.Dial(temporalclient.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("connecting to temporal: %w", err)
			}
			defer tc.Close()

			w, err := watcher.New(cfg.Watcher.Paths, cfg.Watcher.Debounce.Duration(), logger)
			if err != nil {
				return err
			}
			defer w.Stop()

			if err := w.Start(ctx); err != nil {
				return err
			}

			engine := watcher.NewEngine(
				db,
				&workflowTrigger{client: tc, taskQueue: cfg.Temporal.TaskQueue},
				cfg.Watcher.OrgID,
				cfg.Watcher.WorkspaceID,
				logger,
			)
			engine.Run(ctx, w.Events())
			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logging.Sync(logger)

			ctx, cancel := signalContext()
			defer cancel()

			db, err := storage.New(ctx, cfg.Database.DSN.Value(), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return db.Migrate(ctx)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("decisiond\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", gitCommit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	}
}
