package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayusman/pointerlink/internal/capture"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List windows that can be captured",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := capture.DesktopWindows{}.List()
		if err != nil {
			return fmt.Errorf("list windows: %w", err)
		}
		printWindows(os.Stdout, list)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(windowsCmd)
}

func printWindows(out io.Writer, list []capture.Window) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No windows found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PID\tNAME\tTITLE\tBOUNDS")
	for _, win := range list {
		b := win.Bounds
		fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d+%d+%d\n",
			win.PID, win.Name, win.Title, b.Dx(), b.Dy(), b.Min.X, b.Min.Y)
	}
	w.Flush()
}
