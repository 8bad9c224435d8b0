package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ayusman/pointerlink/internal/link"
)

var portsProbe bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports, optionally probing each for an actuator",
	RunE: func(cmd *cobra.Command, args []string) error {
		enum := newEnumerator(cfg.Link)
		names, err := enum.Ports()
		if err != nil {
			return fmt.Errorf("list serial ports: %w", err)
		}
		if len(names) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		if !portsProbe {
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}

		session := link.NewSession(cfg.Link.Session(), enum)
		results := probePorts(cmd.Context(), session.Probe, names, os.Stderr)
		printProbeResults(os.Stdout, names, results)
		return nil
	},
}

func init() {
	portsCmd.Flags().BoolVar(&portsProbe, "probe", false, "handshake with each port")
	rootCmd.AddCommand(portsCmd)
}

// probePorts handshakes with each port in turn. Ports after a cancellation
// are reported with the context error.
func probePorts(ctx context.Context, probe func(context.Context, string) error, names []string, progress io.Writer) []error {
	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetDescription("Probing ports"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	results := make([]error, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			results[i] = err
			continue
		}
		results[i] = probe(ctx, name)
		bar.Add(1)
	}
	bar.Finish()
	return results
}

func printProbeResults(out io.Writer, names []string, results []error) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PORT\tRESULT")
	for i, name := range names {
		result := "actuator"
		if results[i] != nil {
			result = results[i].Error()
		}
		fmt.Fprintf(w, "%s\t%s\n", name, result)
	}
	w.Flush()
}
