package loadtest

import (
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

func TestRenderedInstanceCount(t *testing.T) {
	cases := []struct {
		layers int
		want   int
	}{
		{1, 1},
		{7, 7},
		{8, 8},
		{9, 8},
		{64, 8},
	}
	for _, tc := range cases {
		got := renderedInstanceCount(tc.layers)
		if got != tc.want {
			t.Errorf("renderedInstanceCount(%d) = %d, want %d", tc.layers, got, tc.want)
		}
	}
}

func TestInstanceTransforms(t *testing.T) {
	instances := instanceTransforms(4)
	if len(instances) != 4 {
		t.Fatalf("got %d instances, want 4", len(instances))
	}

	for i, inst := range instances {
		if inst.ArrayIndex.X() != float32(i) {
			t.Errorf("instance %d addresses layer %v, want %d", i, inst.ArrayIndex.X(), i)
		}
	}

	// Translations are evenly spaced and the stack is centered: the
	// first and last offsets sit symmetrically around half a spacing.
	first := instances[0].Model.Col(3).Y()
	last := instances[3].Model.Col(3).Y()
	if !almostEqual(first+last, -instanceSpacing) {
		t.Errorf("stack not centered: first %v last %v", first, last)
	}
	for i := 1; i < len(instances); i++ {
		gap := instances[i].Model.Col(3).Y() - instances[i-1].Model.Col(3).Y()
		if !almostEqual(gap, instanceSpacing) {
			t.Errorf("gap between instance %d and %d is %v, want %v", i-1, i, gap, float32(instanceSpacing))
		}
	}
}

func TestInstanceTransformsClampsToShaderLimit(t *testing.T) {
	instances := instanceTransforms(20)
	if len(instances) != maxShaderLayers {
		t.Fatalf("got %d instances, want %d", len(instances), maxShaderLayers)
	}
}

func TestInstanceTransformsTilt(t *testing.T) {
	instances := instanceTransforms(1)
	want := mgl32.Translate3D(0, -float32(instanceSpacing)/2, 0).
		Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(instanceTiltDeg)))
	if !instances[0].Model.ApproxEqual(want) {
		t.Errorf("single-instance model =\n%v\nwant\n%v", instances[0].Model, want)
	}
}

func TestUniformBufferLayout(t *testing.T) {
	if matricesSize != 2*64 {
		t.Errorf("matrices block is %d bytes, want 128", matricesSize)
	}
	if instanceSize != 64+16 {
		t.Errorf("instance element is %d bytes, want 80", instanceSize)
	}
	if got, want := uniformBufferSize(), matricesSize+maxShaderLayers*instanceSize; got != want {
		t.Errorf("uniformBufferSize() = %d, want %d", got, want)
	}
}

func TestVertexDescriptions(t *testing.T) {
	bindings := vertexBindingDescriptions()
	if len(bindings) != 1 {
		t.Fatalf("got %d bindings, want 1", len(bindings))
	}
	if bindings[0].Stride != int(unsafe.Sizeof(quadVertex{})) {
		t.Errorf("stride %d does not match vertex size %d", bindings[0].Stride, unsafe.Sizeof(quadVertex{}))
	}

	attrs := vertexAttributeDescriptions()
	if len(attrs) != 2 {
		t.Fatalf("got %d attributes, want 2", len(attrs))
	}
	if attrs[0].Offset != 0 {
		t.Errorf("position offset %d, want 0", attrs[0].Offset)
	}
	if attrs[1].Offset != 12 {
		t.Errorf("uv offset %d, want 12", attrs[1].Offset)
	}
}

func almostEqual(a, b float32) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-5
}
