package plugins

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader(testLogger())

	desc, err := loader.Load(&Manifest{
		ID:                  "com.example.inventory",
		Version:             "1.2.0",
		Capabilities:        []string{"store.inventory", "store.inventory"},
		CapabilitiesAllowed: []string{"store.pricing"},
		Dependencies:        []ManifestDependency{{PluginID: "com.example.db", VersionRange: "2.x.x"}},
		Attributes:          map[string]string{"region": "eu"},
		Source:              "test",
	})
	require.NoError(t, err)

	assert.Equal(t, "com.example.inventory", desc.ID)
	assert.Equal(t, "com.example.inventory", desc.Name)
	assert.Equal(t, "1.2.0", desc.Version.String())
	assert.Equal(t, []string{"store.inventory"}, desc.Capabilities)
	require.Len(t, desc.Dependencies, 1)
	assert.Equal(t, "com.example.db", desc.Dependencies[0].PluginID)
	assert.True(t, desc.Dependencies[0].Range.Contains(MustParseVersion("2.9.1")))
	assert.False(t, desc.Dependencies[0].Range.Contains(MustParseVersion("3.0.0")))
	assert.Equal(t, "eu", desc.Attributes["region"])
	assert.Equal(t, "test", desc.Source)
}

func TestLoader_Load_Malformed(t *testing.T) {
	loader := NewLoader(testLogger())

	_, err := loader.Load(&Manifest{Version: "1.0.0"})
	assert.ErrorIs(t, err, ErrMalformedDescriptor)

	_, err = loader.Load(&Manifest{ID: "com.example.x", Version: "1"})
	assert.ErrorIs(t, err, ErrMalformedDescriptor)

	readErr := errors.New("yaml: line 3: did not find expected key")
	_, err = loader.Load(&Manifest{Source: "/plugins/x/plugin.yaml", ReadErr: readErr})
	assert.ErrorIs(t, err, ErrMalformedDescriptor)
	assert.ErrorIs(t, err, readErr)
}

func TestLoader_Load_Platform(t *testing.T) {
	loader := NewLoader(testLogger(), WithPlatforms("go", "linux"))

	_, err := loader.Load(&Manifest{ID: "com.example.any", Version: "1.0.0"})
	assert.NoError(t, err)

	_, err = loader.Load(&Manifest{ID: "com.example.linux", Version: "1.0.0", Platforms: []string{"Linux"}})
	assert.NoError(t, err)

	_, err = loader.Load(&Manifest{ID: "com.example.win", Version: "1.0.0", Platforms: []string{"windows"}})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestLoader_Load_PackageDependencies(t *testing.T) {
	installed := map[string]bool{"libvips": true}
	checker := func(pkg PackageDependency) error {
		if installed[pkg.Name] {
			return nil
		}
		return fmt.Errorf("not installed")
	}
	loader := NewLoader(testLogger(), WithPackageChecker(checker))

	_, err := loader.Load(&Manifest{ID: "com.example.img", Version: "1.0.0",
		PackageDependencies: []PackageDependency{{Name: "libvips", Mandatory: true}}})
	assert.NoError(t, err)

	// optional packages never block
	_, err = loader.Load(&Manifest{ID: "com.example.img", Version: "1.0.0",
		PackageDependencies: []PackageDependency{{Name: "imagemagick", InstallHint: "apt install imagemagick"}}})
	assert.NoError(t, err)

	_, err = loader.Load(&Manifest{ID: "com.example.img", Version: "1.0.0",
		PackageDependencies: []PackageDependency{{Name: "imagemagick", InstallHint: "apt install imagemagick", Mandatory: true}}})
	assert.ErrorIs(t, err, ErrMissingPackage)
	assert.Contains(t, err.Error(), "apt install imagemagick")

	// without a checker mandatory packages are assumed present
	_, err = NewLoader(testLogger()).Load(&Manifest{ID: "com.example.img", Version: "1.0.0",
		PackageDependencies: []PackageDependency{{Name: "imagemagick", Mandatory: true}}})
	assert.NoError(t, err)
}

func TestLoader_LoadBatch_PartialFailure(t *testing.T) {
	var manifests []*Manifest
	for i := 0; i < 9; i++ {
		manifests = append(manifests, &Manifest{ID: fmt.Sprintf("com.example.p%d", i), Version: "1.0.0"})
	}
	manifests = append(manifests, &Manifest{ID: "", Version: "1.0.0", Source: "bad"})

	result := NewLoader(testLogger()).LoadBatch(manifests)

	assert.Len(t, result.Descriptors, 9)
	require.Len(t, result.Rejected, 1)
	assert.ErrorIs(t, result.Rejected[0], ErrMalformedDescriptor)
}

func TestLoader_LoadBatch_DuplicateIDs(t *testing.T) {
	result := NewLoader(testLogger()).LoadBatch([]*Manifest{
		{ID: "com.example.a", Version: "1.0.0", Source: "first"},
		{ID: "com.example.a", Version: "2.0.0", Source: "second"},
		{ID: "com.example.b", Version: "1.0.0"},
	})

	require.Len(t, result.Descriptors, 2)
	assert.Equal(t, "first", result.Descriptors[0].Source)
	assert.Equal(t, "com.example.b", result.Descriptors[1].ID)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "com.example.a", result.Rejected[0].PluginID)
	assert.Contains(t, result.Rejected[0].Error(), "duplicate plugin id")
}
