// loader.go implements the configuration loading lifecycle of the billing
// service.
//
// The loading sequence is:
//  1. Enforce the UTC timezone so billing dates never drift.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Scan the environment for _SSM_PARAM suffix variables.
//  4. If APP_ENV != "local", resolve those parameters via the SecretProvider
//     and inject the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig. Type tells
// parsing, validation and SSM failures apart so entry points can log a
// precise reason before exiting.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks a pointer variable: DATABASE_URL_SSM_PARAM holds the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

const ssmResolveTimeout = 30 * time.Second

// environment holds the injectable process-environment functions. They
// match os.LookupEnv, os.Setenv and os.Environ so tests can run the loader
// without mutating global state.
type environment struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnvironment() environment {
	return environment{
		lookup:  os.LookupEnv,
		set:     os.Setenv,
		environ: os.Environ,
	}
}

// LoadConfig loads and validates the service configuration.
//
// It performs the following steps in order:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present (non-fatal if missing).
//  3. Scans the environment for _SSM_PARAM variables.
//  4. If APP_ENV != "local", resolves them via the provider and injects the
//     resolved values as environment variables.
//  5. Processes envconfig tags to populate the Config struct.
//  6. Populates Config.Build from linker-injected variables.
//  7. Validates the Config struct.
//
// The provider may be nil for local development or when no _SSM_PARAM
// pointers are set. Every binary (api, cutoff-runner, cutoff-run) enters
// through here.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnvironment())
}

func load(provider SecretProvider, env environment) (*Config, error) {
	time.Local = time.UTC

	// Does not override variables already present in the environment.
	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return &cfg, nil
}

// resolveSSMParams scans the environment for variables ending in _SSM_PARAM,
// fetches the corresponding secret values via the SecretProvider, and
// injects them back into the environment so that envconfig can process them.
//
// For example, with STRIPE_SECRET_KEY_SSM_PARAM=/prod/stowage/stripe/key set:
//  1. The SSM path is /prod/stowage/stripe/key.
//  2. The target variable is STRIPE_SECRET_KEY.
//  3. The provider fetches the decrypted value.
//  4. STRIPE_SECRET_KEY is set to it in the environment.
//
// A target variable that is already set (directly or from .env) is left
// alone, so the priority chain is OS environment > dotenv > SSM.
func resolveSSMParams(provider SecretProvider, env environment) error {
	targets := make(map[string]string) // ssm path -> target variable
	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		targets[path] = target
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required to resolve: %s", strings.Join(targetNames(paths, targets), ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := env.set(targets[p], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targets[p]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

func targetNames(paths []string, targets map[string]string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, targets[p])
	}
	return names
}
