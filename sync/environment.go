package sync

import (
	"fmt"
)

// configOptions holds optional configuration for LoadConfig.
type configOptions struct {
	files    []string
	env      EnvironmentLookup
	apiKey   string
	embedded *EmbeddedConfigs
}

// ConfigOption is a functional option for configuring LoadConfig.
type ConfigOption func(*configOptions)

// ConfigWithFile merges a YAML file on top of the embedded defaults.
// Files are applied in the order the options are given.
func ConfigWithFile(filename string) ConfigOption {
	return func(o *configOptions) {
		if filename != "" {
			o.files = append(o.files, filename)
		}
	}
}

// ConfigWithEnvironment sets the lookup used to expand ${VAR} references.
// Defaults to the process environment.
func ConfigWithEnvironment(env EnvironmentLookup) ConfigOption {
	return func(o *configOptions) {
		o.env = env
	}
}

// ConfigWithAPIKey sets the Rally API key.
func ConfigWithAPIKey(key string) ConfigOption {
	return func(o *configOptions) {
		o.apiKey = key
	}
}

// ConfigWithEmbeddedConfigs replaces the defaults compiled into the binary.
func ConfigWithEmbeddedConfigs(ec EmbeddedConfigs) ConfigOption {
	return func(o *configOptions) {
		o.embedded = &ec
	}
}

// LoadConfig loads the embedded defaults, merges any user config files on top
// and validates the result.
func LoadConfig(opts ...ConfigOption) (Config, error) {
	options := configOptions{env: OSEnvironment{}}
	for _, opt := range opts {
		opt(&options)
	}

	var result Config
	embedded := DefaultEmbeddedConfigs()
	if options.embedded != nil {
		embedded = *options.embedded
	}
	defaultsConfigFile, err := embedded.MustFindDefaultsConfigFile()
	if err != nil {
		return result, fmt.Errorf("failed to read defaults config file %w", err)
	}

	sources := []ConfigFile{defaultsConfigFile}
	for _, f := range options.files {
		userConfigFile, err := ReadConfigFile(f)
		if err != nil {
			return result, err
		}
		sources = append(sources, userConfigFile)
	}

	result, err = YAMLConfigUnmarshaler{}.Unmarshal(options.env, sources...)
	if err != nil {
		return result, fmt.Errorf("failed to load config %w", err)
	}
	result.API.Key = options.apiKey

	if err = result.Validate(); err != nil {
		return result, fmt.Errorf("invalid config: %w", err)
	}
	return result, nil
}
