package auth

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// CognitoAPI is the subset of the Cognito user pool API used for login.
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	ListUserPools(ctx context.Context, params *cognitoidentityprovider.ListUserPoolsInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUserPoolsOutput, error)
	ListUserPoolClients(ctx context.Context, params *cognitoidentityprovider.ListUserPoolClientsInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUserPoolClientsOutput, error)
}

var _ CognitoAPI = (*cognitoidentityprovider.Client)(nil)

// LoginService handles authentication with AWS Cognito
type LoginService struct {
	cognitoClient CognitoAPI
}

// LoginRequest identifies the app client either directly by ClientID or by
// the UserPool and ClientName pair.
type LoginRequest struct {
	ClientID   string
	UserPool   string
	ClientName string
	Username   string
	Password   string
}

// LoginResponse represents the login response with tokens
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int32  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// NewLoginService creates a new login service instance
func NewLoginService(client CognitoAPI) *LoginService {
	return &LoginService{cognitoClient: client}
}

// Authenticate performs a USER_PASSWORD_AUTH login with Cognito.
func (s *LoginService) Authenticate(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	clientID := req.ClientID
	if clientID == "" {
		if req.UserPool == "" || req.ClientName == "" {
			return nil, fmt.Errorf("either a client ID or a user pool and client name are required")
		}
		userPoolID, err := s.findUserPoolByName(ctx, req.UserPool)
		if err != nil {
			return nil, err
		}
		clientID, err = s.findUserPoolClient(ctx, userPoolID, req.ClientName)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.cognitoClient.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(clientID),
		AuthParameters: map[string]string{
			"USERNAME": req.Username,
			"PASSWORD": req.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	if result.AuthenticationResult == nil {
		if result.ChallengeName != "" {
			return nil, fmt.Errorf("authentication requires challenge %s, which is not supported", result.ChallengeName)
		}
		return nil, fmt.Errorf("unexpected authentication response")
	}

	return &LoginResponse{
		AccessToken:  aws.ToString(result.AuthenticationResult.AccessToken),
		IDToken:      aws.ToString(result.AuthenticationResult.IdToken),
		RefreshToken: aws.ToString(result.AuthenticationResult.RefreshToken),
		ExpiresIn:    result.AuthenticationResult.ExpiresIn,
		TokenType:    "Bearer",
	}, nil
}

// findUserPoolByName discovers a user pool by its name
func (s *LoginService) findUserPoolByName(ctx context.Context, poolName string) (string, error) {
	paginator := cognitoidentityprovider.NewListUserPoolsPaginator(s.cognitoClient, &cognitoidentityprovider.ListUserPoolsInput{
		MaxResults: aws.Int32(60),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list user pools: %w", err)
		}

		for _, pool := range page.UserPools {
			if aws.ToString(pool.Name) == poolName {
				return aws.ToString(pool.Id), nil
			}
		}
	}

	return "", fmt.Errorf("user pool not found: %s", poolName)
}

// findUserPoolClient discovers a user pool client by name
func (s *LoginService) findUserPoolClient(ctx context.Context, userPoolID, clientName string) (string, error) {
	paginator := cognitoidentityprovider.NewListUserPoolClientsPaginator(s.cognitoClient, &cognitoidentityprovider.ListUserPoolClientsInput{
		UserPoolId: aws.String(userPoolID),
		MaxResults: aws.Int32(60),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list user pool clients: %w", err)
		}

		for _, client := range page.UserPoolClients {
			if aws.ToString(client.ClientName) == clientName {
				return aws.ToString(client.ClientId), nil
			}
		}
	}

	return "", fmt.Errorf("user pool client not found: %s", clientName)
}
