package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/sirupsen/logrus"
)

// PackageChecker reports whether an external package dependency is installed.
// A nil error means satisfied.
type PackageChecker func(pkg PackageDependency) error

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPlatforms sets the platform tags the running host satisfies.
func WithPlatforms(platforms ...string) LoaderOption {
	return func(l *Loader) {
		l.platforms = platforms
	}
}

// WithPackageChecker sets the checker used for mandatory package dependencies.
func WithPackageChecker(checker PackageChecker) LoaderOption {
	return func(l *Loader) {
		l.packageChecker = checker
	}
}

// Loader turns raw manifests into validated descriptors
type Loader struct {
	platforms      []string
	packageChecker PackageChecker
	log            *logrus.Logger
}

// NewLoader creates a new descriptor loader
func NewLoader(log *logrus.Logger, opts ...LoaderOption) *Loader {
	if log == nil {
		log = logrus.New()
	}

	l := &Loader{
		platforms: DefaultPlatforms(),
		log:       log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPlatforms returns the platform tags of the running process.
func DefaultPlatforms() []string {
	return []string{"go", runtime.GOOS}
}

// Platforms returns the platform tags this loader accepts.
func (l *Loader) Platforms() []string {
	return slices.Clone(l.platforms)
}

// Load validates a single manifest and converts it into a descriptor.
func (l *Loader) Load(manifest *Manifest) (*Descriptor, error) {
	if manifest == nil {
		return nil, NewPluginError(ErrMalformedDescriptor, "", "manifest is nil")
	}
	if manifest.ReadErr != nil {
		pe := NewPluginError(ErrMalformedDescriptor, manifest.ID, fmt.Sprintf("%s: %v", manifest.Source, manifest.ReadErr))
		pe.Err = manifest.ReadErr
		return nil, pe
	}

	findings := ValidateManifest(manifest)
	if HasErrors(findings) {
		return nil, NewPluginError(ErrMalformedDescriptor, manifest.ID, joinFindings(findings, SeverityError))
	}
	for _, f := range findings {
		l.log.WithFields(logrus.Fields{
			"plugin": manifest.ID,
			"field":  f.Field,
			"source": manifest.Source,
		}).Warn(f.Message)
	}

	version, err := ParseVersion(manifest.Version)
	if err != nil {
		return nil, NewPluginError(ErrMalformedDescriptor, manifest.ID, err.Error())
	}

	deps := make([]Dependency, 0, len(manifest.Dependencies))
	for _, d := range manifest.Dependencies {
		r, err := ParseVersionRange(d.VersionRange)
		if err != nil {
			return nil, NewPluginError(ErrMalformedDescriptor, manifest.ID, err.Error())
		}
		deps = append(deps, Dependency{PluginID: d.PluginID, Range: r})
	}

	desc := &Descriptor{
		ID:                  manifest.ID,
		Name:                manifest.Name,
		Description:         manifest.Description,
		Version:             version,
		Platforms:           slices.Clone(manifest.Platforms),
		Capabilities:        dedupe(manifest.Capabilities),
		CapabilitiesAllowed: dedupe(manifest.CapabilitiesAllowed),
		Dependencies:        deps,
		PackageDependencies: slices.Clone(manifest.PackageDependencies),
		EntryPoints:         slices.Clone(manifest.EntryPoints),
		EventsHandled:       dedupe(manifest.EventsHandled),
		Attributes:          cloneAttributes(manifest.Attributes),
		Source:              manifest.Source,
	}
	if desc.Name == "" {
		desc.Name = desc.ID
	}

	if !l.supported(desc) {
		return nil, NewPluginError(ErrUnsupportedPlatform, desc.ID,
			fmt.Sprintf("plugin supports %v, host provides %v", desc.Platforms, l.platforms))
	}

	if err := l.checkPackages(desc); err != nil {
		return nil, err
	}

	return desc, nil
}

func (l *Loader) supported(desc *Descriptor) bool {
	if len(desc.Platforms) == 0 {
		return true
	}
	for _, p := range l.platforms {
		if desc.SupportsPlatform(p) {
			return true
		}
	}
	return false
}

func (l *Loader) checkPackages(desc *Descriptor) error {
	for _, pkg := range desc.PackageDependencies {
		entry := l.log.WithFields(logrus.Fields{
			"plugin":  desc.ID,
			"package": pkg.Name,
		})
		if !pkg.Mandatory {
			if pkg.InstallHint != "" {
				entry = entry.WithField("install_hint", pkg.InstallHint)
			}
			entry.Debug("Optional package dependency declared")
			continue
		}
		if l.packageChecker == nil {
			entry.Debug("No package checker configured, assuming mandatory package is installed")
			continue
		}
		if err := l.packageChecker(pkg); err != nil {
			reason := fmt.Sprintf("package %s %s: %v", pkg.Name, pkg.Version, err)
			if pkg.InstallHint != "" {
				reason += fmt.Sprintf(" (install with: %s)", pkg.InstallHint)
			}
			pe := NewPluginError(ErrMissingPackage, desc.ID, reason)
			pe.Err = err
			return pe
		}
	}
	return nil
}

// BatchResult is the outcome of loading a batch of manifests.
type BatchResult struct {
	// Descriptors holds every accepted descriptor, in input order.
	Descriptors []*Descriptor
	// Rejected holds one error per manifest that was excluded.
	Rejected []*PluginError
}

// LoadBatch loads every manifest independently. A bad manifest is reported
// in Rejected and never prevents the rest of the batch from loading. Plugin
// ids must be unique within the batch: the first occurrence wins.
func (l *Loader) LoadBatch(manifests []*Manifest) *BatchResult {
	result := &BatchResult{}
	seen := make(map[string]string, len(manifests))

	for _, m := range manifests {
		if m == nil {
			continue
		}
		desc, err := l.Load(m)
		if err != nil {
			pe, ok := AsPluginError(err)
			if !ok {
				pe = NewPluginError(ErrMalformedDescriptor, m.ID, err.Error())
			}
			l.log.WithFields(logrus.Fields{
				"plugin": pe.PluginID,
				"source": m.Source,
			}).Warnf("Rejected plugin descriptor: %v", pe)
			result.Rejected = append(result.Rejected, pe)
			continue
		}

		if first, dup := seen[desc.ID]; dup {
			pe := NewPluginError(ErrMalformedDescriptor, desc.ID,
				fmt.Sprintf("duplicate plugin id (already declared by %s)", first))
			l.log.WithFields(logrus.Fields{
				"plugin": desc.ID,
				"source": desc.Source,
			}).Warn("Rejected duplicate plugin descriptor")
			result.Rejected = append(result.Rejected, pe)
			continue
		}
		seen[desc.ID] = desc.Source
		result.Descriptors = append(result.Descriptors, desc)
	}

	return result
}

// GetDefaultPluginDirectories returns the default plugin search directories
func GetDefaultPluginDirectories() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}

	return []string{
		filepath.Join(homeDir, ".axle", "plugins"),
		"/etc/axle/plugins",
		"./plugins",
	}
}

func dedupe(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
