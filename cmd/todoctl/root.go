package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"todoq/internal/api"
	"todoq/internal/client"
	"todoq/internal/producer"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	timeout time.Duration
	wait    bool
}

func (o *options) client() *client.Client {
	return client.New(o.server, nil)
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "todoctl",
		Short:         "Submit and inspect todo mutations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("TODOQ_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "API base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "How long --wait polls before giving up")

	rootCmd.AddCommand(
		newCreateCommand(opts),
		newToggleCommand(opts),
		newDeleteCommand(opts),
		newGetCommand(opts),
		newListCommand(opts),
		newJobCommand(opts),
	)
	return rootCmd
}

func newCreateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Queue creation of a todo item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accepted, err := opts.client().Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reportAccepted(cmd, opts, accepted)
		},
	}
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for the job to finish")
	return cmd
}

func newToggleCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <item-id>",
		Short: "Queue a completed toggle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			accepted, err := opts.client().Toggle(cmd.Context(), id)
			if err != nil {
				return err
			}
			return reportAccepted(cmd, opts, accepted)
		},
	}
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for the job to finish")
	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Queue deletion of a todo item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			accepted, err := opts.client().Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			return reportAccepted(cmd, opts, accepted)
		},
	}
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for the job to finish")
	return cmd
}

func newGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <item-id>",
		Short: "Show one todo item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			item, err := opts.client().GetItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderItems([]itemRow{{item.ID.String(), item.Title, item.Completed}}))
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todo items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := opts.client().ListItems(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items")
				return nil
			}
			rows := make([]itemRow, 0, len(items))
			for _, item := range items {
				rows = append(rows, itemRow{item.ID.String(), item.Title, item.Completed})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderItems(rows))
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", api.DefaultPage, "Page number, starting at 1")
	cmd.Flags().IntVar(&limit, "limit", api.DefaultLimit, "Items per page (1-100)")
	return cmd
}

func newJobCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := opts.client()
			var job api.JobResponse
			if opts.wait {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				job, err = c.WaitJob(ctx, id, 0)
			} else {
				job, err = c.GetJob(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJob(job.ID.String(), string(job.Status)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait until the job is completed or failed")
	return cmd
}

func reportAccepted(cmd *cobra.Command, opts *options, accepted producer.Accepted) error {
	status := string(accepted.Status)
	if opts.wait {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		job, err := opts.client().WaitJob(ctx, accepted.JobID, 0)
		if err != nil {
			return err
		}
		status = string(job.Status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderJob(accepted.JobID.String(), status))
	return nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %s", strconv.Quote(raw))
	}
	return id, nil
}
