package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/meltworks/melt/pkg/selection"
)

// Manifest is the root of the pipeline declaration.
type Manifest struct {
	Version                 int     `yaml:"version"`
	SendAnonymousUsageStats bool    `yaml:"send_anonymous_usage_stats"`
	ProjectID               string  `yaml:"project_id"`
	Plugins                 Plugins `yaml:"plugins"`
}

// Plugins groups the declared plugins by kind.
type Plugins struct {
	Extractors []Plugin `yaml:"extractors"`
	Loaders    []Plugin `yaml:"loaders"`
}

// Plugin declares one extractor or loader.
type Plugin struct {
	Name         string         `yaml:"name"`
	Namespace    string         `yaml:"namespace,omitempty"`
	Variant      string         `yaml:"variant,omitempty"`
	PipURL       string         `yaml:"pip_url,omitempty"`
	Capabilities []string       `yaml:"capabilities,omitempty"`
	Settings     []Setting      `yaml:"settings,omitempty"`
	Config       map[string]any `yaml:"config,omitempty"`
	Select       []string       `yaml:"select,omitempty"`
}

// Setting declares a configurable knob and its value domain.
type Setting struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind,omitempty"`
}

// HasCapability reports whether the plugin declares the capability.
func (p *Plugin) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Setting returns the declared setting by name, or nil.
func (p *Plugin) Setting(name string) *Setting {
	for i := range p.Settings {
		if p.Settings[i].Name == name {
			return &p.Settings[i]
		}
	}
	return nil
}

// SelectionRules parses the plugin's select list. An empty list means
// select everything.
func (p *Plugin) SelectionRules() ([]selection.Rule, error) {
	if len(p.Select) == 0 {
		return selection.ParseRules([]string{"*.*"})
	}
	return selection.ParseRules(p.Select)
}

// EnvVar returns the environment variable consulted for a setting that
// has no config value, eg MELT_TAP_GITLAB_PRIVATE_TOKEN.
func (p *Plugin) EnvVar(setting string) string {
	normalize := func(s string) string {
		s = strings.ToUpper(s)
		return strings.Map(func(r rune) rune {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				return r
			}
			return '_'
		}, s)
	}
	return "MELT_" + normalize(p.Name) + "_" + normalize(setting)
}

// ResolveConfig validates the config map against the declared settings
// and coerces every value to its kind. Declared settings absent from
// the config fall back to the plugin's environment variables. String
// values have ${VAR} references expanded from the environment.
func (p *Plugin) ResolveConfig() (map[string]Value, error) {
	resolved := make(map[string]Value, len(p.Config))

	for key, raw := range p.Config {
		setting := p.Setting(key)
		if setting == nil {
			return nil, &UnknownSettingError{Plugin: p.Name, Key: key}
		}
		kind, err := ParseKind(string(setting.Kind))
		if err != nil {
			return nil, &SchemaError{Plugin: p.Name, Setting: setting.Name, Detail: err.Error()}
		}
		if s, ok := raw.(string); ok {
			raw = os.Expand(s, func(name string) string { return os.Getenv(name) })
		}
		value, err := Coerce(kind, raw)
		if err != nil {
			return nil, &TypeCoercionError{Plugin: p.Name, Setting: key, Kind: kind, Value: raw, Err: err}
		}
		resolved[key] = value
	}

	for _, setting := range p.Settings {
		if _, ok := resolved[setting.Name]; ok {
			continue
		}
		env, ok := os.LookupEnv(p.EnvVar(setting.Name))
		if !ok {
			continue
		}
		kind, err := ParseKind(string(setting.Kind))
		if err != nil {
			return nil, &SchemaError{Plugin: p.Name, Setting: setting.Name, Detail: err.Error()}
		}
		value, err := coerceFromEnv(kind, env)
		if err != nil {
			return nil, &TypeCoercionError{Plugin: p.Name, Setting: setting.Name, Kind: kind, Value: Redacted, Err: err}
		}
		resolved[setting.Name] = value
	}

	return resolved, nil
}

// NativeConfig is ResolveConfig with values unwrapped to native Go
// types, the shape plugin Connect methods consume.
func (p *Plugin) NativeConfig() (map[string]any, error) {
	resolved, err := p.ResolveConfig()
	if err != nil {
		return nil, err
	}
	native := make(map[string]any, len(resolved))
	for k, v := range resolved {
		native[k] = v.Native()
	}
	return native, nil
}

// Validate checks the whole manifest: plugin names present and unique
// within their group, setting kinds recognized, selection rules
// parseable, and every config value coercible to its declared kind.
func (m *Manifest) Validate() error {
	if m.Version == 0 {
		return &SchemaError{Detail: "missing required field: version"}
	}

	groups := []struct {
		kind    string
		plugins []Plugin
	}{
		{"extractors", m.Plugins.Extractors},
		{"loaders", m.Plugins.Loaders},
	}

	for _, group := range groups {
		seen := map[string]bool{}
		for i := range group.plugins {
			p := &group.plugins[i]
			if p.Name == "" {
				return &SchemaError{Detail: fmt.Sprintf("%s[%d]: missing required field: name", group.kind, i)}
			}
			if seen[p.Name] {
				return &SchemaError{Plugin: p.Name, Detail: fmt.Sprintf("duplicate plugin name in %s", group.kind)}
			}
			seen[p.Name] = true

			settingSeen := map[string]bool{}
			for _, s := range p.Settings {
				if s.Name == "" {
					return &SchemaError{Plugin: p.Name, Detail: "setting with missing name"}
				}
				if settingSeen[s.Name] {
					return &SchemaError{Plugin: p.Name, Setting: s.Name, Detail: "duplicate setting"}
				}
				settingSeen[s.Name] = true
				if _, err := ParseKind(string(s.Kind)); err != nil {
					return &SchemaError{Plugin: p.Name, Setting: s.Name, Detail: err.Error()}
				}
			}

			if _, err := p.SelectionRules(); err != nil {
				return &SchemaError{Plugin: p.Name, Detail: err.Error()}
			}
			if _, err := p.ResolveConfig(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Extractor returns the named extractor declaration, or nil.
func (m *Manifest) Extractor(name string) *Plugin {
	for i := range m.Plugins.Extractors {
		if m.Plugins.Extractors[i].Name == name {
			return &m.Plugins.Extractors[i]
		}
	}
	return nil
}

// Loader returns the named loader declaration, or nil.
func (m *Manifest) Loader(name string) *Plugin {
	for i := range m.Plugins.Loaders {
		if m.Plugins.Loaders[i].Name == name {
			return &m.Plugins.Loaders[i]
		}
	}
	return nil
}

func coerceFromEnv(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindString, KindPassword, KindDateISO8601:
		return Coerce(kind, raw)
	case KindBoolean:
		switch raw {
		case "true", "false":
			return Coerce(kind, raw == "true")
		default:
			return Value{Kind: kind}, fmt.Errorf("expected true or false, got %q", raw)
		}
	case KindInteger:
		var n int64
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return Value{Kind: kind}, fmt.Errorf("expected an integer, got %q", raw)
		}
		return Coerce(kind, n)
	default:
		return Value{Kind: kind}, fmt.Errorf("setting kind %s cannot be read from the environment", kind)
	}
}
