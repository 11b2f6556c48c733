package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListObjectsCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list-objects BUCKET",
		Short: "Lists the objects in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objects, err := a.storage().ListObjects(cmd.Context(), args[0], prefix)
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No objects in bucket %s.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tLAST MODIFIED\tETAG")
			for _, o := range objects {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", o.Key, o.Size, formatTime(o.LastModified), o.ETag)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list keys starting with prefix")
	return cmd
}

func newCreateObjectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create-object BUCKET KEY FILE",
		Short: "Uploads a file as an object",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			etag, err := a.storage().PutFile(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created object %s/%s (ETag %s).\n", args[0], args[1], etag)
			return nil
		},
	}
}

func newGetObjectCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get-object BUCKET KEY",
		Short: "Downloads an object to stdout or a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			download, err := a.storage().GetObject(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			defer download.Body.Close()

			var n int64
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				n, err = copyAndClose(f, download.Body)
				if err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
			} else {
				n, err = io.Copy(cmd.OutOrStdout(), download.Body)
				if err != nil {
					return fmt.Errorf("failed to download %s/%s: %w", args[0], args[1], err)
				}
			}
			a.logger.Debug().Int64("bytes", n).Str("content_type", download.ContentType).Msg("object downloaded")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the object to this file instead of stdout")
	return cmd
}

func newDeleteObjectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-object BUCKET KEY",
		Short: "Deletes an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.storage().DeleteObject(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted object %s/%s.\n", args[0], args[1])
			return nil
		},
	}
}

// copyAndClose copies src into dst and closes dst, reporting a failed
// close as an error since it can lose buffered writes.
func copyAndClose(dst io.WriteCloser, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	return n, err
}
