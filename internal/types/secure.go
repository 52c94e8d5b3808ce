package types

// redactedPlaceholder replaces secret values in logs and serialized output.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (API keys, signing keys). String() and
// MarshalJSON() return a redacted placeholder; Unmask() yields the raw value
// for the few call sites that genuinely need it (Authorization headers,
// connection strings, HMAC keys).
type SecretString string

// String returns a redacted placeholder instead of the raw value. This is
// what fmt and structured loggers see.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never appear in config dumps or log entries.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
