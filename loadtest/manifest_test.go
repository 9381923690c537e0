package loadtest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.toml")
	err := os.WriteFile(path, []byte(contents), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
[[sample]]
name = "texture-array"
title = "Texture Array"
args = "textures/texturearray_bc3_unorm.ktx"
`)

	manifest, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(manifest.Samples))
	}

	entry, ok := manifest.Lookup("texture-array")
	if !ok {
		t.Fatal("texture-array not found in manifest")
	}
	if entry.Title != "Texture Array" {
		t.Errorf("title = %q", entry.Title)
	}
	if entry.Args != "textures/texturearray_bc3_unorm.ktx" {
		t.Errorf("args = %q", entry.Args)
	}

	_, ok = manifest.Lookup("missing")
	if ok {
		t.Error("Lookup found a sample that is not in the manifest")
	}
}

func TestLoadManifestRejectsUnknownSample(t *testing.T) {
	path := writeManifest(t, `
[[sample]]
name = "no-such-sample"
`)
	_, err := LoadManifest(path)
	if err == nil {
		t.Fatal("expected an error for an unregistered sample name")
	}
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	path := writeManifest(t, "")
	_, err := LoadManifest(path)
	if err == nil {
		t.Fatal("expected an error for a manifest with no samples")
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected an error for a missing manifest file")
	}
}

func TestSampleRegistry(t *testing.T) {
	names := Names()
	if len(names) == 0 {
		t.Fatal("no samples registered")
	}
	found := false
	for _, name := range names {
		if name == "texture-array" {
			found = true
		}
	}
	if !found {
		t.Errorf("texture-array not in %v", names)
	}

	_, err := Create("definitely-not-registered", nil, 0, 0, "", "")
	if err == nil {
		t.Fatal("expected an error for an unknown sample")
	}
}
