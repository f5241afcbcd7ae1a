package sync

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
)

//go:embed defaults.yaml
var embeddedConfigFiles embed.FS

type ConfigFile struct {
	Name   string
	Reader *bytes.Reader
	Length int
}

type EmbeddedConfigs struct {
	Root  string
	Files fs.ReadFileFS
}

// DefaultEmbeddedConfigs returns the config files compiled into the binary.
func DefaultEmbeddedConfigs() EmbeddedConfigs {
	return EmbeddedConfigs{Root: ".", Files: embeddedConfigFiles}
}

func (ec EmbeddedConfigs) MustFindRootConfigFile(filename string) (ConfigFile, error) {
	var result ConfigFile
	name := path.Join(ec.Root, filename)
	b, err := ec.Files.ReadFile(name)
	if err == nil {
		result = newConfigFile(name, b)
	}
	return result, err
}

func (ec EmbeddedConfigs) MustFindDefaultsConfigFile() (ConfigFile, error) {
	return ec.MustFindRootConfigFile("defaults.yaml")
}

// ReadConfigFile reads a user supplied config file from disk.
func ReadConfigFile(filename string) (ConfigFile, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return ConfigFile{}, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return newConfigFile(filename, b), nil
}

func newConfigFile(name string, b []byte) ConfigFile {
	return ConfigFile{
		Name:   name,
		Reader: bytes.NewReader(b),
		Length: len(b),
	}
}
