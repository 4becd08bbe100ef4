package manifest

import "fmt"

// SchemaError reports a structurally invalid manifest: an unrecognized
// setting kind, a missing plugin name, a malformed selection rule.
type SchemaError struct {
	Plugin  string
	Setting string
	Detail  string
}

func (e *SchemaError) Error() string {
	if e.Plugin == "" {
		return fmt.Sprintf("manifest: %s", e.Detail)
	}
	if e.Setting == "" {
		return fmt.Sprintf("manifest: plugin %q: %s", e.Plugin, e.Detail)
	}
	return fmt.Sprintf("manifest: plugin %q: setting %q: %s", e.Plugin, e.Setting, e.Detail)
}

// UnknownSettingError reports a config key with no matching setting
// declaration.
type UnknownSettingError struct {
	Plugin string
	Key    string
}

func (e *UnknownSettingError) Error() string {
	return fmt.Sprintf("manifest: plugin %q: config key %q does not match any declared setting", e.Plugin, e.Key)
}

// TypeCoercionError reports a config value that does not fit its
// setting's declared kind.
type TypeCoercionError struct {
	Plugin  string
	Setting string
	Kind    Kind
	Value   any
	Err     error
}

func (e *TypeCoercionError) Error() string {
	value := fmt.Sprintf("%v", e.Value)
	if e.Kind == KindPassword {
		value = Redacted
	}
	msg := fmt.Sprintf("manifest: plugin %q: setting %q: value %s is not a valid %s", e.Plugin, e.Setting, value, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeCoercionError) Unwrap() error { return e.Err }
