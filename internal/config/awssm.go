package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// newSecretsClient is replaced in tests.
var newSecretsClient = func(ctx context.Context) (secretsGetter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// resolveAWSSecretsManager resolves an AWS Secrets Manager reference.
// Format: secret-id, or secret-id#key to pick one field of a JSON secret
// (the layout RDS-managed credentials use).
func resolveAWSSecretsManager(ref string) (string, error) {
	id, key, hasKey := strings.Cut(ref, "#")

	ctx := context.Background()
	client, err := newSecretsClient(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", id)
	}
	if !hasKey {
		return *out.SecretString, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object: %w", id, err)
	}
	return secretField(fields, key, fmt.Sprintf("secret %q", id))
}
