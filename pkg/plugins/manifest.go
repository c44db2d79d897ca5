package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest file names looked up in a plugin directory, in order.
var manifestFileNames = []string{"plugin.yaml", "plugin.yml", "plugin.json"}

// Manifest is the raw, unvalidated plugin declaration as read from a source.
type Manifest struct {
	ID                  string               `yaml:"id" json:"id"`
	Name                string               `yaml:"name,omitempty" json:"name,omitempty"`
	Description         string               `yaml:"description,omitempty" json:"description,omitempty"`
	Version             string               `yaml:"version" json:"version"`
	Platforms           []string             `yaml:"platforms,omitempty" json:"platforms,omitempty"`
	Capabilities        []string             `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	CapabilitiesAllowed []string             `yaml:"capabilities_allowed,omitempty" json:"capabilities_allowed,omitempty"`
	Dependencies        []ManifestDependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	PackageDependencies []PackageDependency  `yaml:"package_dependencies,omitempty" json:"package_dependencies,omitempty"`
	EntryPoints         []EntryPoint         `yaml:"entry_points,omitempty" json:"entry_points,omitempty"`
	EventsHandled       []string             `yaml:"events_handled,omitempty" json:"events_handled,omitempty"`
	Attributes          map[string]string    `yaml:"attributes,omitempty" json:"attributes,omitempty"`

	// Source is where the manifest was read from (file path, table row, ...).
	Source string `yaml:"-" json:"-"`
	// ReadErr is set by sources that found a manifest they could not parse,
	// so the failure is reported through the loader like any other rejection.
	ReadErr error `yaml:"-" json:"-"`
}

// ManifestDependency is the raw form of a hard dependency.
type ManifestDependency struct {
	PluginID     string `yaml:"plugin_id" json:"plugin_id"`
	VersionRange string `yaml:"version_range,omitempty" json:"version_range,omitempty"`
}

// ParseManifest parses a YAML or JSON manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

// LoadManifest loads and parses a plugin manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	manifest.Source = path
	return manifest, nil
}

// FindManifest returns the manifest file inside dir.
func FindManifest(dir string) (string, error) {
	for _, name := range manifestFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no plugin manifest in %s: %w", dir, os.ErrNotExist)
}

// LoadManifestFromDir loads a plugin manifest from a directory (plugin.yaml, plugin.yml or plugin.json)
func LoadManifestFromDir(dir string) (*Manifest, error) {
	path, err := FindManifest(dir)
	if err != nil {
		return nil, err
	}
	return LoadManifest(path)
}

// SaveManifest saves a plugin manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	if manifest == nil {
		return errors.New("manifest is nil")
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// IsManifestFile reports whether name is one of the recognised manifest file names.
func IsManifestFile(name string) bool {
	base := filepath.Base(name)
	for _, n := range manifestFileNames {
		if base == n {
			return true
		}
	}
	return false
}
