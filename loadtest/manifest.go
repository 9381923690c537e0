package loadtest

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// Manifest is the table of samples the app can run, loaded from a TOML
// file in the asset directory.
type Manifest struct {
	Samples []ManifestEntry `toml:"sample"`
}

// ManifestEntry describes one runnable sample.
type ManifestEntry struct {
	// Name is the registry key of the sample implementation.
	Name string `toml:"name"`
	// Title is a human-readable label for logs and the window title.
	Title string `toml:"title"`
	// Args is the sample's argument string, typically the texture file
	// relative to the asset directory.
	Args string `toml:"args"`
}

// LoadManifest reads and validates a sample manifest.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load manifest %q", path)
	}

	var manifest Manifest
	err = toml.Unmarshal(raw, &manifest)
	if err != nil {
		return nil, errors.Wrapf(err, "parse manifest %q", path)
	}

	if len(manifest.Samples) == 0 {
		return nil, errors.Newf("manifest %q declares no samples", path)
	}
	for _, entry := range manifest.Samples {
		if entry.Name == "" {
			return nil, errors.Newf("manifest %q has a sample without a name", path)
		}
		if _, ok := registry[entry.Name]; !ok {
			return nil, errors.Newf("manifest %q references unknown sample %q", path, entry.Name)
		}
	}

	return &manifest, nil
}

// Lookup finds a manifest entry by sample name.
func (m *Manifest) Lookup(name string) (ManifestEntry, bool) {
	for _, entry := range m.Samples {
		if entry.Name == name {
			return entry, true
		}
	}
	return ManifestEntry{}, false
}
