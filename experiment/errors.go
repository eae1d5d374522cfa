package experiment

import "fmt"

// ConfigurationError reports a malformed or ambiguous experiment
// definition. It is always raised before any build or run starts.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Msg
	}

	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Msg)
}

// Errorf builds a ConfigurationError for field.
func Errorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
