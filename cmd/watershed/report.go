package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/lox/watershed/internal/delineate"
	"github.com/lox/watershed/internal/store"
)

type ReportCmd struct {
	Workspace string `arg:"" type:"existingdir" help:"Workspace of earlier runs."`

	Limit int    `default:"10" help:"Number of runs to list."`
	RunID string `name:"run" help:"Run to detail instead of the latest one."`
	Site  *int   `help:"Print the recorded failure detail of this site."`
}

func (c *ReportCmd) Run() error {
	ledger, err := store.Open(filepath.Join(c.Workspace, store.DefaultName))
	if err != nil {
		return err
	}
	defer ledger.Close()
	return c.print(os.Stdout, ledger)
}

func (c *ReportCmd) print(out io.Writer, ledger *store.Store) error {
	runs, err := ledger.RunSummaries(c.Limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSITES\tOK\tFAILED\tSKIPPED\tSTATE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Params.Sites,
			count(r.Succeeded.Int64, r.Succeeded.Valid), count(r.Failed.Int64, r.Failed.Valid),
			count(r.Skipped.Int64, r.Skipped.Valid), state(r))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	run := &runs[0]
	if c.RunID != "" {
		if run, err = ledger.GetRun(c.RunID); err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", c.RunID)
		}
	}

	if c.Site != nil {
		site := *c.Site
		detail, err := ledger.FailureDetail(run.ID, site)
		if err != nil {
			return err
		}
		if detail == nil {
			fmt.Fprintf(out, "\nno failure recorded for site %d in run %s\n", site, run.ID)
			return nil
		}
		fmt.Fprintf(out, "\nsite %d in run %s:\n%s\n", site, run.ID, detail)
		return nil
	}

	stats, err := ledger.DownloadStats(run.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nrun %s downloaded %d tiles (%.1f MB), %d failed\n",
		run.ID, stats.Succeeded, float64(stats.Bytes)/(1<<20), stats.Failed)

	failed, err := ledger.FailedSites(run.ID)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nSITE\tSTEP\tERROR")
		for _, s := range failed {
			fmt.Fprintf(w, "%d\t%s\t%s\n", s.SiteID, s.Step.String, s.ErrorMessage.String)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	ids, err := delineate.ReadFailureLog(filepath.Join(c.Workspace, delineate.FailureLogName))
	if err == nil {
		fmt.Fprintf(out, "\n%s lists %d sites across all runs\n", delineate.FailureLogName, len(ids))
	}
	if version, err := ledger.MigrationVersion(); err == nil {
		fmt.Fprintf(out, "ledger schema v%d\n", version)
	}
	return nil
}

func count(n int64, valid bool) string {
	if !valid {
		return "-"
	}
	return fmt.Sprint(n)
}

func state(r store.Run) string {
	switch {
	case !r.FinishedAt.Valid:
		return "running"
	case r.Interrupted:
		return "interrupted"
	default:
		return "done"
	}
}
