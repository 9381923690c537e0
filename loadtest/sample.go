// Package loadtest holds the texture load-test samples and the manifest
// that names them. Each sample owns its GPU resources for its lifetime
// and records draw command buffers into the shared rendering context.
package loadtest

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/ktxgo/texarray/render"
)

// Sample is one runnable load test.
type Sample interface {
	// Resize re-records command buffers and refreshes any
	// extent-dependent state after the swapchain was rebuilt.
	Resize(width, height int) error

	// Run advances the scene by the given tick count in milliseconds.
	// Static scenes treat it as a no-op; the app redraws from the
	// sample's pre-recorded command buffers either way.
	Run(msTicks float64) error

	// Close destroys the sample's resources in reverse creation order.
	Close()
}

// CreateFunc builds a sample against a live rendering context. args is
// the sample's argument string from the manifest (typically a texture
// file name) resolved relative to basePath.
type CreateFunc func(ctx *render.Context, width, height int, args, basePath string) (Sample, error)

var registry = map[string]CreateFunc{
	"texture-array": NewTextureArray,
}

// Create instantiates the named sample.
func Create(name string, ctx *render.Context, width, height int, args, basePath string) (Sample, error) {
	create, ok := registry[name]
	if !ok {
		return nil, errors.Newf("unknown sample %q (have %v)", name, Names())
	}
	return create(ctx, width, height, args, basePath)
}

// Names lists the registered samples in stable order.
func Names() []string {
	var names []string
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
