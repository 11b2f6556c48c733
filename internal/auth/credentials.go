package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	// MinSessionDuration is the shortest session STS AssumeRole grants (15 minutes).
	MinSessionDuration = 900 // seconds

	// DefaultSessionDuration is the session length requested for --role-arn (1 hour).
	DefaultSessionDuration = 3600 // seconds
)

// STSAPI is the subset of STS used by s3cli.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var _ STSAPI = (*sts.Client)(nil)

// AssumeRole assumes roleArn and returns temporary credentials valid for
// durationSeconds.
func AssumeRole(ctx context.Context, client STSAPI, roleArn, sessionName string, durationSeconds int32) (aws.Credentials, error) {
	if roleArn == "" {
		return aws.Credentials{}, fmt.Errorf("role ARN cannot be empty")
	}
	if durationSeconds < MinSessionDuration {
		durationSeconds = MinSessionDuration
	}

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(durationSeconds),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to assume role %s: %w", roleArn, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("assume role %s returned no credentials", roleArn)
	}

	return aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "AssumeRoleProvider",
		CanExpire:       true,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}

// NewAssumeRoleProvider returns a cached credentials provider that assumes
// roleArn whenever the previous credentials expire.
func NewAssumeRoleProvider(client STSAPI, roleArn string, durationSeconds int32) *aws.CredentialsCache {
	return aws.NewCredentialsCache(
		aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			sessionName := fmt.Sprintf("s3cli-session-%d", time.Now().Unix())
			return AssumeRole(ctx, client, roleArn, sessionName, durationSeconds)
		}),
	)
}

// Identity is the caller identity reported by STS.
type Identity struct {
	Account string `json:"account"`
	Arn     string `json:"arn"`
	UserID  string `json:"userId"`
}

// CallerIdentity reports who the current credentials belong to.
func CallerIdentity(ctx context.Context, client STSAPI) (*Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}
	return &Identity{
		Account: aws.ToString(out.Account),
		Arn:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
