package manifest

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Kind is the declared value domain of a setting.
type Kind string

const (
	KindString      Kind = "string"
	KindPassword    Kind = "password"
	KindDateISO8601 Kind = "date_iso8601"
	KindBoolean     Kind = "boolean"
	KindInteger     Kind = "integer"
	KindObject      Kind = "object"
)

// Redacted is printed in place of password-kind values.
const Redacted = "(redacted)"

// ParseKind validates a kind name. The empty string defaults to string,
// matching undeclared kinds in hand-written manifests.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindString, nil
	case KindString, KindPassword, KindDateISO8601, KindBoolean, KindInteger, KindObject:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unrecognized setting kind %q", s)
	}
}

// Value is a config value coerced to its setting's kind. Exactly one of
// the typed fields is meaningful, according to Kind.
type Value struct {
	Kind Kind
	Str  string
	Bool bool
	Int  int64
	Time time.Time
	Obj  map[string]any
}

// Native returns the value in its native Go representation.
func (v Value) Native() any {
	switch v.Kind {
	case KindString, KindPassword:
		return v.Str
	case KindDateISO8601:
		return v.Time
	case KindBoolean:
		return v.Bool
	case KindInteger:
		return v.Int
	case KindObject:
		return v.Obj
	default:
		return nil
	}
}

// String implements fmt.Stringer. Password values are never rendered in
// plaintext.
func (v Value) String() string {
	if v.Kind == KindPassword {
		return Redacted
	}
	return fmt.Sprintf("%v", v.Native())
}

// Coerce converts a raw manifest value into a Value of the given kind.
// Kinds accept only their native literal types; in particular boolean
// settings reject strings like "yes".
func Coerce(kind Kind, raw any) (Value, error) {
	v := Value{Kind: kind}

	switch kind {
	case KindString, KindPassword:
		s, ok := raw.(string)
		if !ok {
			return v, fmt.Errorf("expected a string, got %T", raw)
		}
		v.Str = s

	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return v, fmt.Errorf("expected a boolean literal, got %T", raw)
		}
		v.Bool = b

	case KindInteger:
		switch n := raw.(type) {
		case int:
			v.Int = int64(n)
		case int64:
			v.Int = n
		case uint64:
			v.Int = int64(n)
		case float64:
			if n != float64(int64(n)) {
				return v, fmt.Errorf("expected an integer, got %v", n)
			}
			v.Int = int64(n)
		default:
			return v, fmt.Errorf("expected an integer, got %T", raw)
		}

	case KindDateISO8601:
		s, ok := raw.(string)
		if !ok {
			if t, isTime := raw.(time.Time); isTime {
				v.Time = t
				return v, nil
			}
			return v, fmt.Errorf("expected an ISO8601 string, got %T", raw)
		}
		t, err := parseISO8601(s)
		if err != nil {
			return v, err
		}
		v.Time = t

	case KindObject:
		if raw == nil {
			return v, fmt.Errorf("expected a mapping, got null")
		}
		obj := map[string]any{}
		if err := mapstructure.Decode(raw, &obj); err != nil {
			return v, fmt.Errorf("expected a mapping: %w", err)
		}
		v.Obj = obj

	default:
		return v, fmt.Errorf("unrecognized setting kind %q", kind)
	}

	return v, nil
}

// parseISO8601 accepts full RFC3339 timestamps as well as bare dates.
func parseISO8601(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO8601 timestamp", s)
}
