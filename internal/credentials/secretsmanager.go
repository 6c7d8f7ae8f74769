package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// SecretsAPI is the slice of the Secrets Manager client this package uses.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

var (
	// ErrSecretNotFound is returned when the configured secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretAccessDenied is returned when IAM forbids reading the secret.
	ErrSecretAccessDenied = errors.New("access denied to secret")
)

// SecretsManager reads the key from an AWS Secrets Manager secret.
type SecretsManager struct {
	SecretID string
	API      SecretsAPI
}

// NewSecretsManager uses the default AWS credential chain and region.
func NewSecretsManager(ctx context.Context, secretID string) (*SecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManager{SecretID: secretID, API: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *SecretsManager) Name() string { return "secretsmanager:" + s.SecretID }

func (s *SecretsManager) Credentials(ctx context.Context) ([]byte, error) {
	if s == nil || s.SecretID == "" || s.API == nil {
		return nil, ErrNotConfigured
	}
	out, err := s.API.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(s.SecretID)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "ResourceNotFoundException":
				return nil, ErrSecretNotFound
			case "AccessDeniedException":
				return nil, ErrSecretAccessDenied
			}
		}
		return nil, fmt.Errorf("get secret: %w", err)
	}

	switch {
	case out.SecretString != nil && *out.SecretString != "":
		return validate([]byte(*out.SecretString), s.Name())
	case len(out.SecretBinary) > 0:
		return validate(out.SecretBinary, s.Name())
	}
	return nil, fmt.Errorf("%s: secret value is empty", s.Name())
}
