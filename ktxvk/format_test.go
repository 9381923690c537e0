package ktxvk_test

import (
	"testing"

	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/ktxgo/texarray/ktx"
	"github.com/ktxgo/texarray/ktxvk"
)

func TestFormatFor(t *testing.T) {
	cases := []struct {
		name       string
		glInternal uint32
		glType     uint32
		want       core1_0.Format
		wantErr    bool
	}{
		{"rgba8", 0x8058, 0x1401, core1_0.FormatR8G8B8A8UnsignedNormalized, false},
		{"srgb8_alpha8", 0x8C43, 0x1401, core1_0.FormatR8G8B8A8SRGB, false},
		{"rgb8", 0x8051, 0x1401, core1_0.FormatR8G8B8UnsignedNormalized, false},
		{"rg8", 0x822B, 0x1401, core1_0.FormatR8G8UnsignedNormalized, false},
		{"r8", 0x8229, 0x1401, core1_0.FormatR8UnsignedNormalized, false},
		{"compressed", 0x9278, 0, 0, true},
		{"unknown", 0x1234, 0x1401, 0, true},
	}

	for _, tc := range cases {
		tex := &ktx.Texture{GLInternalFormat: tc.glInternal, GLType: tc.glType}
		got, err := ktxvk.FormatFor(tex)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: FormatFor succeeded, want error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: FormatFor = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTexelSize(t *testing.T) {
	if got := ktxvk.TexelSize(core1_0.FormatR8G8B8A8UnsignedNormalized); got != 4 {
		t.Errorf("TexelSize(RGBA8) = %d, want 4", got)
	}
	if got := ktxvk.TexelSize(core1_0.FormatR8UnsignedNormalized); got != 1 {
		t.Errorf("TexelSize(R8) = %d, want 1", got)
	}
	if got := ktxvk.TexelSize(core1_0.FormatD32SignedFloat); got != 0 {
		t.Errorf("TexelSize(D32) = %d, want 0 for unsupported format", got)
	}
}

func TestViewTypeFor(t *testing.T) {
	array := &ktx.Texture{ArrayElements: 7, Faces: 1}
	if got := ktxvk.ViewTypeFor(array); got != core1_0.ImageViewType2DArray {
		t.Errorf("ViewTypeFor(array) = %v, want 2D array", got)
	}

	flat := &ktx.Texture{Faces: 1}
	if got := ktxvk.ViewTypeFor(flat); got != core1_0.ImageViewType2D {
		t.Errorf("ViewTypeFor(2D) = %v, want 2D", got)
	}

	cube := &ktx.Texture{Faces: 6}
	if got := ktxvk.ViewTypeFor(cube); got != core1_0.ImageViewTypeCube {
		t.Errorf("ViewTypeFor(cube) = %v, want cube", got)
	}
}

func TestStagingLayout(t *testing.T) {
	tex := &ktx.Texture{
		PixelWidth:    4,
		PixelHeight:   4,
		ArrayElements: 3,
		Faces:         1,
		MipLevels:     2,
		Levels: []ktx.Level{
			{Width: 4, Height: 4, Data: make([]byte, 4*4*4*3)},
			{Width: 2, Height: 2, Data: make([]byte, 2*2*4*3)},
		},
	}

	regions, total := ktxvk.StagingLayout(tex)
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
	if regions[0].BufferOffset != 0 {
		t.Errorf("level 0 offset = %d, want 0", regions[0].BufferOffset)
	}
	if regions[1].BufferOffset != 4*4*4*3 {
		t.Errorf("level 1 offset = %d, want %d", regions[1].BufferOffset, 4*4*4*3)
	}
	if total != 4*4*4*3+2*2*4*3 {
		t.Errorf("total = %d, want %d", total, 4*4*4*3+2*2*4*3)
	}

	for i, region := range regions {
		if region.ImageSubresource.MipLevel != i {
			t.Errorf("region %d mip level = %d", i, region.ImageSubresource.MipLevel)
		}
		if region.ImageSubresource.LayerCount != 3 {
			t.Errorf("region %d layer count = %d, want 3", i, region.ImageSubresource.LayerCount)
		}
	}
	if regions[1].ImageExtent.Width != 2 || regions[1].ImageExtent.Height != 2 {
		t.Errorf("level 1 extent = %dx%d, want 2x2", regions[1].ImageExtent.Width, regions[1].ImageExtent.Height)
	}
}

func TestStagingLayoutAlignsLevels(t *testing.T) {
	// 1x1 RGB8: 3-byte level must be padded before the next level starts.
	tex := &ktx.Texture{
		PixelWidth:  2,
		PixelHeight: 1,
		Faces:       1,
		MipLevels:   2,
		Levels: []ktx.Level{
			{Width: 2, Height: 1, Data: make([]byte, 6)},
			{Width: 1, Height: 1, Data: make([]byte, 3)},
		},
	}

	regions, total := ktxvk.StagingLayout(tex)
	if regions[1].BufferOffset != 8 {
		t.Errorf("level 1 offset = %d, want 8", regions[1].BufferOffset)
	}
	if total != 12 {
		t.Errorf("total = %d, want 12", total)
	}
}
