// Command scrapper collects the WDFW creel export into the local store and
// offers maintenance subcommands around it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abelzeko/creel-bot/internal/app"
	"github.com/abelzeko/creel-bot/internal/config"
	"github.com/abelzeko/creel-bot/internal/logging"
)

// cli carries the state shared by every subcommand
type cli struct {
	configFile string
	dbPath     string
	logLevel   string

	cfg    config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "scrapper",
		Short: "Collect Puget Sound creel survey data from WDFW",
		Long: `scrapper downloads the WDFW Puget Sound creel export page by page and
reconciles it into the local SQLite store. Running it without a subcommand
performs one gated update, the same as "scrapper run".`,
		PersistentPreRunE: c.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default is ./creel.yaml)")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "database path (overrides db.path)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	run := c.newRunCommand()
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(
		run,
		c.newScheduleCommand(),
		c.newInspectCommand(),
		c.newExportCommand(),
		c.newConflictsCommand(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DB.Path = c.dbPath
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg
	c.logger = logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "scrapper",
		Output:    logOutput(cmd),
	})
	return nil
}

// openApp builds the shared dependencies for commands that touch the store
func (c *cli) openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg, c.logger)
}

func logOutput(cmd *cobra.Command) io.Writer {
	if w := cmd.ErrOrStderr(); w != os.Stderr {
		return w
	}
	return nil
}
