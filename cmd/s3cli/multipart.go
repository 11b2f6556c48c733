package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stefando/s3cli/internal/upload"
)

// abortTimeout bounds the best-effort abort after a failed upload, which
// may run after the command context was cancelled.
const abortTimeout = 30 * time.Second

func newMultipartUploadCmd(a *app) *cobra.Command {
	var (
		abortOnFailure bool
		contentType    string
	)
	cmd := &cobra.Command{
		Use:   "multipart-upload BUCKET [KEY]",
		Short: "Uploads an object in parts read from stdin",
		Long: `Starts a multipart upload and reads part file paths from stdin, one per
line. Each file becomes the next part. A line reading END, or the end of
input, completes the upload. Without KEY a key of the form
YYYY/MM/DD/<uuid>.raw is generated.

A failed upload is left open and its upload id logged, so its parts can
be inspected with list-multiparts or removed with abort-multipart. Pass
--abort-on-failure to abort it right away.`,
		Example: `
	$ printf 'part1.bin\npart2.bin\nEND\n' | s3cli multipart-upload my-bucket big.bin`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket := args[0]
			key := upload.GenerateKey(time.Now())
			if len(args) == 2 {
				key = args[1]
			}

			uploader := upload.NewUploader(a.client,
				upload.WithLogger(a.logger),
				upload.WithPrompt(cmd.OutOrStdout()),
				upload.WithContentType(contentType),
			)
			result, err := uploader.Run(cmd.Context(), bucket, key, cmd.InOrStdin())
			if err != nil {
				var sessionErr *upload.SessionError
				if errors.As(err, &sessionErr) {
					a.handleFailedSession(uploader, sessionErr.Session, abortOnFailure)
				}
				return err
			}

			a.logger.Info().
				Str("bucket", result.Session.Bucket).
				Str("key", result.Session.Key).
				Int("parts", len(result.Parts)).
				Str("location", result.Location).
				Msg("multipart upload completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&abortOnFailure, "abort-on-failure", false, "abort the multipart upload when a step fails instead of leaving it open")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type of the assembled object")
	return cmd
}

func (a *app) handleFailedSession(uploader *upload.Uploader, session upload.Session, abort bool) {
	if !abort {
		a.logger.Warn().
			Str("bucket", session.Bucket).
			Str("key", session.Key).
			Str("upload_id", session.UploadID).
			Msg("multipart upload left open; remove it with abort-multipart")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := uploader.Abort(ctx, session); err != nil {
		a.logger.Warn().Err(err).Str("upload_id", session.UploadID).Msg("failed to abort multipart upload")
		return
	}
	a.logger.Info().Str("upload_id", session.UploadID).Msg("aborted multipart upload")
}

func newListMultipartsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-multiparts BUCKET",
		Short: "Lists in-progress multipart uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := a.storage().ListMultipartUploads(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(uploads) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No multipart uploads in bucket %s.\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tUPLOAD ID\tINITIATED")
			for _, u := range uploads {
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Key, u.UploadID, formatTime(u.Initiated))
			}
			return w.Flush()
		},
	}
}

func newAbortMultipartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abort-multipart BUCKET KEY UPLOAD_ID",
		Short: "Aborts a multipart upload and discards its parts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := upload.Session{Bucket: args[0], Key: args[1], UploadID: args[2]}
			uploader := upload.NewUploader(a.client, upload.WithLogger(a.logger))
			if err := uploader.Abort(cmd.Context(), session); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Aborted multipart upload %s.\n", args[2])
			return nil
		},
	}
}
