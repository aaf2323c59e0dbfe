package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
)

// SecretKeys are the entries read from the IAP secret.
var SecretKeys = []string{"APPLE_API_KEY", "APPLE_KEY_ID", "APPLE_ISSUER_ID", "GOOGLE_API_KEY"}

// SecretGetter is the subset of secretsmanageriface.SecretsManagerAPI used here.
type SecretGetter interface {
	GetSecretValueWithContext(ctx aws.Context, input *secretsmanager.GetSecretValueInput, opts ...request.Option) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsManagerClient builds a client from the default credential chain.
func NewSecretsManagerClient(region string) (*secretsmanager.SecretsManager, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return secretsmanager.New(sess), nil
}

// FetchIAPSecrets reads a JSON object secret and returns the known keys that
// are present in it.
func FetchIAPSecrets(ctx context.Context, client SecretGetter, secretID string) (map[string]string, error) {
	out, err := client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return nil, errors.New("secret has no string value")
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(aws.StringValue(out.SecretString)), &raw); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	secrets := make(map[string]string, len(SecretKeys))
	for _, k := range SecretKeys {
		if v, ok := raw[k]; ok && v != "" {
			secrets[k] = v
		}
	}
	return secrets, nil
}
