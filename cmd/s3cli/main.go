// Command s3cli manages S3 buckets and objects and runs interactive
// multipart uploads.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stefando/s3cli/internal/auth"
	"github.com/stefando/s3cli/internal/awsconfig"
	"github.com/stefando/s3cli/internal/s3api"
	"github.com/stefando/s3cli/internal/storage"
)

// envFallbacks maps global flags to the environment variables consulted
// when the flag is not given.
var envFallbacks = map[string]string{
	"region":       "S3CLI_REGION",
	"profile":      "S3CLI_PROFILE",
	"endpoint-url": "S3CLI_ENDPOINT_URL",
	"path-style":   "S3CLI_PATH_STYLE",
	"role-arn":     "S3CLI_ROLE_ARN",
	"max-attempts": "S3CLI_MAX_ATTEMPTS",
	"timeout":      "S3CLI_TIMEOUT",
}

// app is the state shared by every command of one invocation.
type app struct {
	opts      awsconfig.Options
	verbosity int
	logJSON   bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logger  zerolog.Logger
	cfg     aws.Config
	client  s3api.S3API
	sts     auth.STSAPI
	cognito auth.CognitoAPI
}

// region is the region the client talks to: the loaded config's region,
// which already follows --region, the SDK chain and DefaultRegion.
func (a *app) region() string {
	if a.cfg.Region != "" {
		return a.cfg.Region
	}
	if a.opts.Region != "" {
		return a.opts.Region
	}
	return awsconfig.DefaultRegion
}

func (a *app) storage() *storage.Service {
	return storage.NewService(a.client, a.logger)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "s3cli",
		Short:         "s3cli manages S3 buckets, objects and multipart uploads",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.setupLogging()
			if err := applyEnvFallbacks(cmd); err != nil {
				return err
			}
			// Tests inject a client.
			if a.client != nil {
				return nil
			}
			cfg, err := awsconfig.Load(cmd.Context(), a.opts)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.client = awsconfig.NewS3Client(cfg, a.opts)
			a.logger.Debug().Str("region", cfg.Region).Str("endpoint", a.opts.EndpointURL).Msg("client configured")
			return nil
		},
	}

	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&a.verbosity, "verbose", "v", "verbose output")
	flags.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON lines")
	flags.StringVar(&a.opts.Region, "region", "", "AWS region (default: SDK chain, then "+awsconfig.DefaultRegion+")")
	flags.StringVar(&a.opts.Profile, "profile", "", "shared config profile")
	flags.StringVar(&a.opts.EndpointURL, "endpoint-url", "", "custom S3 endpoint, e.g. http://localhost:9000")
	flags.BoolVar(&a.opts.PathStyle, "path-style", false, "use path-style bucket addressing")
	flags.StringVar(&a.opts.RoleARN, "role-arn", "", "IAM role to assume for all requests")
	flags.IntVar(&a.opts.MaxAttempts, "max-attempts", 0, "maximum attempts per request (default: SDK)")
	flags.DurationVar(&a.opts.Timeout, "timeout", 0, "HTTP client timeout (default: none)")

	rootCmd.AddCommand(
		newCreateBucketCmd(a),
		newDeleteBucketCmd(a),
		newExistBucketCmd(a),
		newListBucketsCmd(a),
		newListObjectsCmd(a),
		newCreateObjectCmd(a),
		newGetObjectCmd(a),
		newDeleteObjectCmd(a),
		newMultipartUploadCmd(a),
		newListMultipartsCmd(a),
		newAbortMultipartCmd(a),
		newServeCmd(a),
		newWhoamiCmd(a),
		newLoginCmd(a),
	)
	return rootCmd
}

func (a *app) setupLogging() {
	level := zerolog.InfoLevel
	if a.verbosity == 1 {
		level = zerolog.DebugLevel
	} else if a.verbosity >= 2 {
		level = zerolog.TraceLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: a.stderr, TimeFormat: time.Kitchen}
	if a.logJSON {
		out = a.stderr
	}
	a.logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = a.logger
}

// applyEnvFallbacks sets global flags the user did not pass from their
// environment variables.
func applyEnvFallbacks(cmd *cobra.Command) error {
	for name, env := range envFallbacks {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}
		value, ok := os.LookupEnv(env)
		if !ok || value == "" {
			continue
		}
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
	}
	return nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		cancel()
		os.Exit(1)
	}
}
