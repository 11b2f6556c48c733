package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/stefando/s3cli/internal/auth"
)

func (a *app) stsClient() auth.STSAPI {
	if a.sts == nil {
		a.sts = sts.NewFromConfig(a.cfg)
	}
	return a.sts
}

func (a *app) cognitoClient() auth.CognitoAPI {
	if a.cognito == nil {
		a.cognito = cognitoidentityprovider.NewFromConfig(a.cfg)
	}
	return a.cognito
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Reports the identity behind the current credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := auth.CallerIdentity(cmd.Context(), a.stsClient())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account: %s\n", id.Account)
			fmt.Fprintf(out, "ARN:     %s\n", id.Arn)
			fmt.Fprintf(out, "User ID: %s\n", id.UserID)
			return nil
		},
	}
}

func newLoginCmd(a *app) *cobra.Command {
	var req auth.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Signs in to a Cognito user pool and prints bearer tokens for serve",
		Long: `Signs in with USER_PASSWORD_AUTH. The password is read from S3CLI_PASSWORD,
or else from the first line of stdin.`,
		Example: `
	$ echo "$PASSWORD" | s3cli login --user-pool uploads --client-name cli --username alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			req.Password = password

			resp, err := auth.NewLoginService(a.cognitoClient()).Authenticate(cmd.Context(), &req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "app client id")
	cmd.Flags().StringVar(&req.UserPool, "user-pool", "", "user pool name, used with --client-name")
	cmd.Flags().StringVar(&req.ClientName, "client-name", "", "app client name within --user-pool")
	cmd.Flags().StringVar(&req.Username, "username", "", "user name")
	cmd.MarkFlagsMutuallyExclusive("client-id", "user-pool")
	cmd.MarkFlagsRequiredTogether("user-pool", "client-name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func readPassword(stdin io.Reader) (string, error) {
	if p := os.Getenv("S3CLI_PASSWORD"); p != "" {
		return p, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required via S3CLI_PASSWORD or stdin")
	}
	return password, nil
}
