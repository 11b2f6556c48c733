package main

import (
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/stefando/s3cli/internal/auth"
	"github.com/stefando/s3cli/internal/server"
	"github.com/stefando/s3cli/internal/upload"
)

var errPresignUnavailable = errors.New("serve requires an AWS S3 client")

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		asLambda   bool
		issuers    []string
		presignTTL time.Duration
		maxBody    int64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves bucket, object and presigned upload operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s3Client, ok := a.client.(*s3.Client)
			if !ok {
				return errPresignUnavailable
			}

			var authn *auth.Authenticator
			if len(issuers) > 0 {
				authn = auth.NewAuthenticator(issuers, nil, a.logger)
			}

			srv := server.New(server.Config{
				Storage:       a.storage(),
				Uploads:       upload.NewPresignedUploads(a.client, s3.NewPresignClient(s3Client), presignTTL, a.logger),
				Authenticator: authn,
				Login:         auth.NewLoginService(a.cognitoClient()),
				Location:      a.cfg.Region,
				MaxBodyBytes:  maxBody,
				Logger:        a.logger,
			})

			if asLambda {
				a.logger.Info().Msg("starting Lambda handler")
				lambda.Start(server.LambdaHandler(srv.Router(), a.logger))
				return nil
			}
			return server.ListenAndServe(cmd.Context(), addr, srv.Router(), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&asLambda, "lambda", false, "run as an API Gateway Lambda handler")
	cmd.Flags().StringSliceVar(&issuers, "oidc-issuer", nil, "trusted OIDC issuer URL; requires bearer tokens when set (repeatable)")
	cmd.Flags().Int64Var(&maxBody, "max-body", server.DefaultMaxBodyBytes, "largest object body accepted by PUT, in bytes")
	cmd.Flags().DurationVar(&presignTTL, "presign-ttl", upload.DefaultPresignTTL, "lifetime of presigned part URLs")
	return cmd
}
