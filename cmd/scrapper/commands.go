package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelzeko/creel-bot/internal/app"
	"github.com/abelzeko/creel-bot/internal/integration"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

const defaultInspectPage = 10

func (c *cli) newRunCommand() *cobra.Command {
	var (
		force bool
		pages int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one update",
		Long: `Run one update through the update gate. The run is skipped when the last
successful update is more recent than update.cooldown unless --force is given.

--pages runs the collector directly for that many pages. Such runs do not
move the last update time and do not upload the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			if pages > 0 {
				res, err := a.Collector.Run(cmd.Context(), pages)
				printRunResult(out, res)
				return err
			}

			var res usecases.GateResult
			if force {
				res = a.Gate.RunNow(cmd.Context())
			} else {
				res = a.Gate.MaybeRun(cmd.Context())
			}
			fmt.Fprintln(out, usecases.FormatGateResult(res))
			if res.Result != nil {
				printRunResult(out, *res.Result)
			}
			if res.Status == usecases.GateFailed {
				return errors.New(res.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the update cooldown")
	cmd.Flags().IntVar(&pages, "pages", 0, "collect this many pages directly, bypassing the gate")
	return cmd
}

func (c *cli) newScheduleCommand() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run updates on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if spec != "" {
				c.cfg.Update.Cron = spec
			}
			if c.cfg.Update.Cron == "" {
				c.cfg.Update.Cron = "0 * * * *"
			}

			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			scheduler, err := a.NewScheduler(ctx)
			if err != nil {
				return err
			}

			// Run immediately on startup; the gate skips it when data is fresh
			res := a.Gate.MaybeRun(ctx)
			c.logger.Info().Str("status", string(res.Status)).Str("message", res.Message).Msg("Initial update finished")

			scheduler.Start()
			c.logger.Info().Str("schedule", c.cfg.Update.Cron).Msg("Scrapper has been scheduled")
			<-ctx.Done()
			<-scheduler.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", `cron spec (default update.cron, or hourly "0 * * * *")`)
	return cmd
}

func (c *cli) newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [page]",
		Short: "Fetch one export page and report repeated natural keys",
		Long: `Fetch one export page without writing it and list rows whose natural key
repeats within the page, split into exact duplicates and conflicting rows.
The page defaults to 10.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page := defaultInspectPage
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid page %q", args[0])
				}
				page = n
			}

			client := integration.NewExportClient(c.cfg.Source.BaseURL, c.cfg.Source.UserAgent, c.cfg.Source.Timeout, c.logger)
			report, err := usecases.NewInspector(client, c.logger).InspectPage(cmd.Context(), page)
			if err != nil {
				return err
			}
			printInspectReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func (c *cli) newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every stored record to a JSON file",
		Long: `Write every stored record to a JSON file. Without a file argument the
export is written next to the database as creel_export_<timestamp>.json.
Use "-" for stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 && args[0] == "-" {
				_, err := usecases.ExportJSON(cmd.Context(), a.Repo, cmd.OutOrStdout())
				return err
			}

			path := filepath.Join(filepath.Dir(c.cfg.DB.Path), "creel_export_"+time.Now().Format("20060102_150405")+".json")
			if len(args) == 1 {
				path = args[0]
			}
			return exportToFile(cmd, a, path)
		},
	}
}

func exportToFile(cmd *cobra.Command, a *app.App, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := usecases.ExportJSON(cmd.Context(), a.Repo, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	abs, _ := filepath.Abs(path)
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, abs)
	return nil
}

func (c *cli) newConflictsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recent upstream changes to stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Repo.ListConflicts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No conflicts recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DETECTED\tSAMPLE DATE\tSITE\tAREA\tOLD\tNEW\tRUN")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.DetectedAt.UTC().Format(time.RFC3339), e.Key.SampleDate, e.Key.Site,
					e.Key.CatchArea, e.OldHash, e.NewHash, e.RunID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}

func printRunResult(w io.Writer, r usecases.RunResult) {
	fmt.Fprintf(w, "Run %s: %d pages, %d rows, %d new, %d updated, %d duplicates, %d errors, %d skipped\n",
		r.RunID, r.Pages, r.Rows, r.Inserted, r.Updated, r.Duplicates, r.Errors, r.Skipped)
	fmt.Fprintf(w, "Stopped at page %d (%s), %d records stored, took %s\n",
		r.StoppedAt, r.Stop, r.TotalRecords, r.Duration.Round(time.Millisecond))
}

func printInspectReport(w io.Writer, r usecases.InspectReport) {
	fmt.Fprintf(w, "Inspecting page %d\nURL: %s\n\n", r.Page, r.URL)
	fmt.Fprintf(w, "Rows: %d (dropped without key: %d)\n", r.Rows, r.Dropped)
	fmt.Fprintf(w, "Unique keys: %d\n", r.UniqueKeys)
	fmt.Fprintf(w, "Exact duplicates: %d\n", len(r.Exact))
	fmt.Fprintf(w, "Conflicting rows: %d\n", len(r.Conflicts))

	for _, k := range r.Conflicts {
		fmt.Fprintf(w, "  row %d repeats row %d: %s | %s | %s (hash %s vs %s)\n",
			k.Row, k.FirstRow, k.Key.SampleDate, k.Key.Site, k.Key.CatchArea, k.FirstHash, k.Hash)
	}
}
