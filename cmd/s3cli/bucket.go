package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCreateBucketCmd(a *app) *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "create-bucket BUCKET",
		Short: "Creates a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if location == "" {
				location = a.region()
			}
			if err := a.storage().CreateBucket(cmd.Context(), args[0], location); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created bucket %s.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "location constraint (default: the client's region)")
	return cmd
}

func newDeleteBucketCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-bucket BUCKET",
		Short: "Deletes an empty bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.storage().DeleteBucket(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted bucket %s.\n", args[0])
			return nil
		},
	}
}

func newExistBucketCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exist-bucket BUCKET",
		Short: "Reports whether a bucket exists and is accessible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := a.storage().BucketExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exists)
			return nil
		},
	}
}

func newListBucketsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-buckets",
		Short: "Lists the caller's buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			buckets, err := a.storage().ListBuckets(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCREATED")
			for _, b := range buckets {
				fmt.Fprintf(w, "%s\t%s\n", b.Name, formatTime(b.CreationDate))
			}
			return w.Flush()
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
