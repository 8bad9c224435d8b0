package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/pointerlink/internal/store"
)

var (
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openJournal()
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs().List(runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the commands sent during a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openJournal()
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.Runs().GetByID(args[0])
		if err != nil {
			return fmt.Errorf("run %s: %w", args[0], err)
		}
		acts, err := st.Actuations().ListByRun(run.ID, runsLimit)
		if err != nil {
			return fmt.Errorf("list actuations: %w", err)
		}
		printRun(os.Stdout, run, acts)
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().IntVarP(&runsLimit, "limit", "n", 20, "maximum rows to show")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openJournal() (*store.Store, error) {
	if cfg.Journal.Path == "" {
		return nil, fmt.Errorf("journal is disabled (journal.path is empty)")
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return store.New(cfg.Journal.Path)
}

func printRuns(out io.Writer, runs []*store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tTARGET\tPORT\tSTATUS\tCYCLES\tCOMMANDS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), duration(r), r.Target,
			dash(r.Port), r.Status, r.Cycles, r.Commands)
	}
	w.Flush()
}

func printRun(out io.Writer, r *store.Run, acts []*store.Actuation) {
	fmt.Fprintf(out, "Run %s (%s)\n", r.ID, r.Status)
	fmt.Fprintf(out, "  Backend: %s\n  Target:  %s\n  Port:    %s\n", r.Backend, r.Target, dash(r.Port))
	if r.Error != "" {
		fmt.Fprintf(out, "  Error:   %s\n", r.Error)
	}
	fmt.Fprintln(out)

	if len(acts) == 0 {
		fmt.Fprintln(out, "No commands sent.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEQ\tFROM\tTO\tOUTCOME\tSENT")
	for _, a := range acts {
		fmt.Fprintf(w, "%d\t(%d,%d)\t(%d,%d)\t%s\t%s\n",
			a.Seq, a.CurrentX, a.CurrentY, a.TargetX, a.TargetY, a.Outcome,
			a.SentAt.Local().Format(time.TimeOnly))
	}
	w.Flush()
}

func duration(r *store.Run) string {
	if r.EndedAt == nil {
		return "-"
	}
	return r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
