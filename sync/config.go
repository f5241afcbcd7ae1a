package sync

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/config"
)

type Config struct {
	API    APISettings
	Types  TypeSettings
	Fields FieldSettings
	Scope  ScopeSettings
}

type APISettings struct {
	// Key is never read from YAML, it is supplied on the command line.
	Key      string `yaml:"-"`
	Endpoint string
	Version  string
	Timeout  string
	// PageSize bounds each lookup. Two is enough to detect ambiguous matches.
	PageSize    int `yaml:"pageSize"`
	Integration struct {
		Name    string
		Vendor  string
		Version string
	}
}

// TypeSettings names the WSAPI type paths of the records being linked.
type TypeSettings struct {
	Child  string // e.g. "hierarchicalrequirement"
	Parent string // e.g. "portfolioitem/feature"
	// ChildEnvelope overrides the key wrapping update bodies for the child type.
	ChildEnvelope string `yaml:"childEnvelope"`
}

type FieldSettings struct {
	ExternalID string `yaml:"externalId"`
	Parent     string
	Fetch      []string
}

// ScopeSettings controls project scoping of record lookups.
type ScopeSettings struct {
	Up   bool
	Down bool
}

// RequestTimeout returns the configured HTTP timeout, falling back to HTTPRequestTimeout.
func (s APISettings) RequestTimeout() time.Duration {
	if s.Timeout == "" {
		return HTTPRequestTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return HTTPRequestTimeout
	}
	return d
}

// FetchFields returns the fields requested for every record lookup.
// The external id field and _ref are always included.
func (c Config) FetchFields() []string {
	result := make([]string, 0, len(c.Fields.Fetch)+2)
	seen := make(map[string]bool)
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			result = append(result, f)
		}
	}
	for _, f := range c.Fields.Fetch {
		add(f)
	}
	add(c.Fields.ExternalID)
	add("_ref")
	return result
}

func (c Config) Validate() error {
	var errs []error
	required := []struct {
		key   string
		value string
	}{
		{"api.endpoint", c.API.Endpoint},
		{"api.version", c.API.Version},
		{"types.child", c.Types.Child},
		{"types.parent", c.Types.Parent},
		{"fields.externalId", c.Fields.ExternalID},
		{"fields.parent", c.Fields.Parent},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("missing required config value '%s'", r.key))
		}
	}
	if c.API.Timeout != "" {
		if _, err := time.ParseDuration(c.API.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("invalid api.timeout %q: %w", c.API.Timeout, err))
		}
	}
	return errors.Join(errs...)
}

// EnvironmentLookup resolves ${VAR} and ${VAR:default} references in config files.
type EnvironmentLookup interface {
	LookupEnv(key string) (string, bool)
}

// OSEnvironment looks variables up in the process environment.
type OSEnvironment struct{}

func (OSEnvironment) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnvironment looks variables up in a fixed map.
type MapEnvironment map[string]string

func (m MapEnvironment) LookupEnv(key string) (string, bool) {
	v, exists := m[key]
	return v, exists
}

type YAMLConfigUnmarshaler struct{}

// Unmarshal merges the sources in order, later sources overriding earlier ones.
func (u YAMLConfigUnmarshaler) Unmarshal(env EnvironmentLookup, sources ...ConfigFile) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
	}
	options = append(options, config.Expand(env.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}
	key := "api"
	err = yaml.Get(key).Populate(&result.API)
	if err != nil {
		return result, readError(key, err)
	}
	key = "types"
	err = yaml.Get(key).Populate(&result.Types)
	if err != nil {
		return result, readError(key, err)
	}
	key = "fields"
	err = yaml.Get(key).Populate(&result.Fields)
	if err != nil {
		return result, readError(key, err)
	}
	key = "scope"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.Scope)
		if err != nil {
			return result, readError(key, err)
		}
	}

	return result, nil
}
