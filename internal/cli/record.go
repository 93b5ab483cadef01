package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var recordHeaders = []string{"ID", "USER", "ACCOUNT", "SCHEDULED_AT", "CHANNEL", "STATUS"}

// NewRecordCmd создаёт группу команд для управления записями.
func NewRecordCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"records"},
		Short:   "Manage scheduled posts",
	}

	cmd.AddCommand(
		newRecordListCmd(clientFn, outputFn),
		newRecordCreateCmd(clientFn, outputFn),
		newRecordShowCmd(clientFn, outputFn),
		newRecordRescheduleCmd(clientFn, outputFn),
		newRecordCancelCmd(clientFn, outputFn),
		newRecordDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newRecordListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRecordsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			records, err := client.ListRecords(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(records))
			for i, r := range records {
				rows[i] = recordRow(&r)
			}

			out.Print(recordHeaders, rows, records)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "Filter by owning user ID")
	cmd.Flags().StringVar(&opts.AccountID, "account", "", "Filter by target account ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (pending, fired, cancelled)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Max records to return")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Records to skip")

	return cmd
}

func newRecordCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateRecordRequest
	var at string
	var media []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a new post",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			scheduledAt, err := parseScheduledAt(at, time.Now())
			if err != nil {
				return err
			}
			req.ScheduledAt = scheduledAt

			refs, err := parseMedia(media)
			if err != nil {
				return err
			}
			req.Content.Media = refs

			record, err := client.CreateRecord(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Post scheduled: %s", record.ID))
			out.Print(recordHeaders, [][]string{recordRow(record)}, record)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.OwningUserID, "user", "", "Owning user ID (required)")
	cmd.Flags().StringVar(&req.TargetAccountID, "account", "", "Target account ID (required)")
	cmd.Flags().StringVar(&at, "at", "", "Publish time: RFC3339 or +DURATION (e.g. +2h) (required)")
	cmd.Flags().StringVar(&req.Content.Caption, "caption", "", "Caption text")
	cmd.Flags().StringVar(&req.Content.Channel, "channel", "post", "Channel: post, story, reel")
	cmd.Flags().StringSliceVar(&media, "media", nil, "Media as URL or KIND=URL (repeatable)")
	cmd.Flags().BoolVar(&req.Recurrence, "daily", false, "Repeat daily")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}

func newRecordShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a scheduled post and its queued jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			record, err := client.GetRecord(args[0])
			if err != nil {
				return err
			}

			out.Detail([]Field{
				{"ID", record.ID},
				{"Status", record.Status},
				{"User", record.OwningUserID},
				{"Account", record.TargetAccountID},
				{"Scheduled at", record.ScheduledAt},
				{"Channel", record.Content.Channel},
				{"Caption", record.Content.Caption},
				{"Media", strconv.Itoa(len(record.Content.Media))},
				{"Daily", strconv.FormatBool(record.Recurrence)},
				{"Generation", strconv.FormatInt(record.JobGeneration, 10)},
				{"Live jobs", strings.Join(record.LiveJobs, ", ")},
				{"Fired at", record.FiredAt},
				{"Cancelled at", record.CancelledAt},
			}, record)
			return nil
		},
	}
}

func newRecordRescheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var at string
	var account string
	var daily bool

	cmd := &cobra.Command{
		Use:   "reschedule ID",
		Short: "Move a pending post to a new time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			scheduledAt, err := parseScheduledAt(at, time.Now())
			if err != nil {
				return err
			}

			req := RescheduleRequest{ScheduledAt: scheduledAt}
			if cmd.Flags().Changed("account") {
				req.TargetAccountID = &account
			}
			if cmd.Flags().Changed("daily") {
				req.Recurrence = &daily
			}

			record, err := client.RescheduleRecord(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Post rescheduled")
			out.Print(recordHeaders, [][]string{recordRow(record)}, record)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "New publish time: RFC3339 or +DURATION (required)")
	cmd.Flags().StringVar(&account, "account", "", "New target account ID")
	cmd.Flags().BoolVar(&daily, "daily", false, "Repeat daily")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}

func newRecordCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			record, err := client.CancelRecord(args[0])
			if err != nil {
				return err
			}

			out.Success("Post cancelled")
			out.Print(recordHeaders, [][]string{recordRow(record)}, record)
			return nil
		},
	}
}

func newRecordDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a post and its queued jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteRecord(args[0]); err != nil {
				return err
			}

			out.Success("Post deleted")
			return nil
		},
	}
}

func recordRow(r *RecordResponse) []string {
	return []string{
		r.ID, r.OwningUserID, r.TargetAccountID, r.ScheduledAt, r.Content.Channel, r.Status,
	}
}

// parseScheduledAt принимает RFC3339 или смещение от now вида "+90m".
func parseScheduledAt(s string, now time.Time) (time.Time, error) {
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return now.Add(d).UTC().Truncate(time.Second), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or +DURATION", s)
	}
	return t.UTC(), nil
}

// parseMedia разбирает "URL" или "KIND=URL".
func parseMedia(items []string) ([]MediaRef, error) {
	refs := make([]MediaRef, 0, len(items))
	for _, item := range items {
		kind, u, found := strings.Cut(item, "=")
		if !found {
			u, kind = item, ""
		}
		if u == "" {
			return nil, fmt.Errorf("invalid media %q, expected URL or KIND=URL", item)
		}
		refs = append(refs, MediaRef{URL: u, Kind: kind})
	}
	return refs, nil
}
