package config

import "context"

// SecretProvider abstracts the retrieval of secrets to support both AWS SSM
// Parameter Store (deployed environments) and environment variables (local
// development). LoadConfig receives one so entry points and tests can choose
// the source without touching the loader.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Implementations batch internally to stay under API limits.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
