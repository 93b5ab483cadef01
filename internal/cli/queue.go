package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCmd создаёт группу команд для обслуживания очереди.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}

	cmd.AddCommand(
		newQueueStatsCmd(clientFn, outputFn),
		newQueueDeadCmd(clientFn, outputFn),
		newQueueRedriveCmd(clientFn, outputFn),
		newQueueSweepCmd(clientFn, outputFn),
	)

	return cmd
}

func newQueueStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.QueueStats()
			if err != nil {
				return err
			}

			out.Print(
				[]string{"DELAYED", "WAITING", "ACTIVE", "DEAD"},
				[][]string{{
					strconv.FormatInt(stats.Delayed, 10),
					strconv.FormatInt(stats.Waiting, 10),
					strconv.FormatInt(stats.Active, 10),
					strconv.FormatInt(stats.Dead, 10),
				}},
				stats,
			)
			return nil
		},
	}
}

func newQueueDeadCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List jobs that exhausted their attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListDeadJobs(limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{
					j.ID, j.RunAt, fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts), truncate(j.LastError, 60),
				}
			}

			out.Print([]string{"JOB_ID", "RUN_AT", "ATTEMPTS", "LAST_ERROR"}, rows, jobs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Max jobs to return")

	return cmd
}

func newQueueRedriveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "redrive JOB_ID",
		Short: "Return a dead job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.RedriveJob(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job %s redriven", args[0]))
			return nil
		},
	}
}

func newQueueSweepCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-enqueue pending posts missing from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.Sweep()
			if err != nil {
				return err
			}

			out.Print(
				[]string{"SCANNED", "ENQUEUED", "SKIPPED", "FAILED"},
				[][]string{{
					strconv.Itoa(res.Scanned), strconv.Itoa(res.Enqueued),
					strconv.Itoa(res.Skipped), strconv.Itoa(res.Failed),
				}},
				res,
			)
			return nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
