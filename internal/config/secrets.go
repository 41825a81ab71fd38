package config

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadSecrets fills credentials missing from the environment from Secrets
// Manager, looking them up under SecretPrefix. Lookup failures are logged and
// skipped.
func (c *Config) LoadSecrets(ctx context.Context, client SecretsAPI, logger *slog.Logger) {
	if c.SecretPrefix == "" {
		return
	}

	secrets := map[string]*string{
		"ELEVENLABS_API_KEY": &c.ElevenLabs.APIKey,
		"MCP_AUTH_TOKEN":     &c.Server.AuthToken,
	}

	for name, dst := range secrets {
		// Skip if already set in environment or config file
		if *dst != "" {
			continue
		}

		secretID := c.SecretPrefix + name
		result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: &secretID,
		})
		if err != nil {
			logger.Info("Secret not found", "secret_id", secretID, "error", err)
			continue
		}
		if result.SecretString != nil {
			*dst = *result.SecretString
			logger.Info("Loaded secret", "secret_id", secretID)
		}
	}
}
