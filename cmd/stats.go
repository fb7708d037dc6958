package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/jobsync/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print job counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.StatusCounts(cmd.Context())
		if err != nil {
			return err
		}
		messages, err := st.CountMessages(cmd.Context())
		if err != nil {
			return err
		}
		return printStats(os.Stdout, counts, messages)
	},
}

func printStats(w io.Writer, counts []model.StatusCount, messages int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	total := 0
	fmt.Fprintln(tw, "STATUS\tJOBS")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\n", c.Status, c.Count)
		total += c.Count
	}
	fmt.Fprintf(tw, "TOTAL\t%d\n", total)
	fmt.Fprintf(tw, "MESSAGES\t%d\n", messages)
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
