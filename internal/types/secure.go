package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credentials such as the database URL or the Stripe key.
// It prints and marshals as a placeholder so config dumps and structured
// logs never carry the raw value.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue keeps slog attributes redacted as well.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}

// Unmask returns the raw plaintext value. Only call this where the secret is
// handed to a driver or an Authorization header.
func (s SecretString) Unmask() string {
	return string(s)
}
