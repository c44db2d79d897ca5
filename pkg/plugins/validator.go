package plugins

import (
	"fmt"
	"regexp"
	"strings"
)

var pluginIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*(\.[A-Za-z0-9_\-]+)*$`)

var capabilityRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)

// Capability patterns may use "*" for a single segment.
var capabilityPatternRegex = regexp.MustCompile(`^([A-Za-z0-9_\-]+|\*)(\.([A-Za-z0-9_\-]+|\*))*$`)

// ValidateManifest validates a plugin manifest and returns all findings.
// Only findings with SeverityError make the manifest unloadable.
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errors []ValidationError

	if manifest.ID == "" {
		errors = append(errors, ValidationError{
			Field:    "id",
			Message:  "Plugin ID is required",
			Severity: SeverityError,
		})
	} else if !pluginIDRegex.MatchString(manifest.ID) {
		errors = append(errors, ValidationError{
			Field:    "id",
			Message:  fmt.Sprintf("Plugin ID %q must be dotted alphanumeric segments (e.g., 'com.example.inventory')", manifest.ID),
			Severity: SeverityError,
		})
	} else if !strings.Contains(manifest.ID, ".") {
		errors = append(errors, ValidationError{
			Field:    "id",
			Message:  "Plugin ID should be reverse-DNS (e.g., 'com.example.inventory')",
			Severity: SeverityWarning,
		})
	}

	if manifest.Version == "" {
		errors = append(errors, ValidationError{
			Field:    "version",
			Message:  "Version is required",
			Severity: SeverityError,
		})
	} else if _, err := ParseVersion(manifest.Version); err != nil {
		errors = append(errors, ValidationError{
			Field:    "version",
			Message:  "Version must be 'N.N.N' or a wildcard pattern such as '1.x.x'",
			Severity: SeverityError,
		})
	}

	for i, dep := range manifest.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		if dep.PluginID == "" {
			errors = append(errors, ValidationError{
				Field:    field + ".plugin_id",
				Message:  "Dependency plugin ID is required",
				Severity: SeverityError,
			})
		} else if dep.PluginID == manifest.ID {
			errors = append(errors, ValidationError{
				Field:    field + ".plugin_id",
				Message:  "Plugin depends on itself",
				Severity: SeverityWarning,
			})
		}
		if _, err := ParseVersionRange(dep.VersionRange); err != nil {
			errors = append(errors, ValidationError{
				Field:    field + ".version_range",
				Message:  fmt.Sprintf("Invalid version range %q", dep.VersionRange),
				Severity: SeverityError,
			})
		}
	}

	errors = append(errors, validateNames("capabilities", manifest.Capabilities, capabilityRegex)...)
	errors = append(errors, validateNames("capabilities_allowed", manifest.CapabilitiesAllowed, capabilityPatternRegex)...)
	errors = append(errors, validateNames("events_handled", manifest.EventsHandled, capabilityRegex)...)

	provided := make(map[string]bool, len(manifest.Capabilities))
	for _, c := range manifest.Capabilities {
		provided[c] = true
	}
	for _, c := range manifest.CapabilitiesAllowed {
		if provided[c] {
			errors = append(errors, ValidationError{
				Field:    "capabilities_allowed",
				Message:  fmt.Sprintf("Capability %q is both provided and consumed; the plugin will not receive its own capability", c),
				Severity: SeverityWarning,
			})
		}
	}

	for i, pkg := range manifest.PackageDependencies {
		if pkg.Name == "" {
			errors = append(errors, ValidationError{
				Field:    fmt.Sprintf("package_dependencies[%d].name", i),
				Message:  "Package dependency name is required",
				Severity: SeverityError,
			})
		}
	}

	for i, ep := range manifest.EntryPoints {
		if ep.Factory == "" {
			errors = append(errors, ValidationError{
				Field:    fmt.Sprintf("entry_points[%d].factory", i),
				Message:  "Entry point factory is required",
				Severity: SeverityError,
			})
		}
	}

	return errors
}

func validateNames(field string, names []string, re *regexp.Regexp) []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !re.MatchString(name) {
			errors = append(errors, ValidationError{
				Field:    field,
				Message:  fmt.Sprintf("Invalid name %q", name),
				Severity: SeverityError,
			})
			continue
		}
		if seen[name] {
			errors = append(errors, ValidationError{
				Field:    field,
				Message:  fmt.Sprintf("Duplicate entry %q", name),
				Severity: SeverityWarning,
			})
		}
		seen[name] = true
	}
	return errors
}

// HasErrors reports whether any finding has SeverityError.
func HasErrors(findings []ValidationError) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func joinFindings(findings []ValidationError, severity string) string {
	var parts []string
	for _, f := range findings {
		if f.Severity == severity {
			parts = append(parts, f.String())
		}
	}
	return strings.Join(parts, "; ")
}
