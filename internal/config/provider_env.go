package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider by resolving secret values from
// OS environment variables. It serves local development, where secrets are
// set directly in the environment or via a .env file and SSM Parameter Store
// is bypassed.
type EnvVarProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvVarProvider creates an EnvVarProvider backed by os.LookupEnv.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch resolves each key by looking it up as an OS environment
// variable. Only keys found in the environment are included in the returned
// map; missing keys are silently omitted.
//
// The context is accepted for interface compatibility but is not used, since
// environment lookups are synchronous.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
