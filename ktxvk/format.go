package ktxvk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/ktxgo/texarray/ktx"
)

// GL sized internal format enums as they appear in KTX 1.1 headers.
const (
	glR8          = 0x8229
	glRG8         = 0x822B
	glRGB8        = 0x8051
	glRGBA8       = 0x8058
	glSRGB8       = 0x8C41
	glSRGB8Alpha8 = 0x8C43
)

// FormatFor maps the GL internal format declared by a KTX texture to
// the equivalent Vulkan format.
func FormatFor(tex *ktx.Texture) (core1_0.Format, error) {
	if tex.IsCompressed() {
		return 0, errors.Newf("ktxvk: block-compressed internal format %#x is not supported", tex.GLInternalFormat)
	}

	switch tex.GLInternalFormat {
	case glR8:
		return core1_0.FormatR8UnsignedNormalized, nil
	case glRG8:
		return core1_0.FormatR8G8UnsignedNormalized, nil
	case glRGB8:
		return core1_0.FormatR8G8B8UnsignedNormalized, nil
	case glRGBA8:
		return core1_0.FormatR8G8B8A8UnsignedNormalized, nil
	case glSRGB8:
		return core1_0.FormatR8G8B8SRGB, nil
	case glSRGB8Alpha8:
		return core1_0.FormatR8G8B8A8SRGB, nil
	}

	return 0, errors.Newf("ktxvk: no Vulkan equivalent for GL internal format %#x", tex.GLInternalFormat)
}

// TexelSize returns the byte size of one texel in the given format.
func TexelSize(format core1_0.Format) int {
	switch format {
	case core1_0.FormatR8UnsignedNormalized:
		return 1
	case core1_0.FormatR8G8UnsignedNormalized:
		return 2
	case core1_0.FormatR8G8B8UnsignedNormalized, core1_0.FormatR8G8B8SRGB:
		return 3
	case core1_0.FormatR8G8B8A8UnsignedNormalized, core1_0.FormatR8G8B8A8SRGB:
		return 4
	}
	return 0
}

// ViewTypeFor picks the image view type matching the texture's shape.
func ViewTypeFor(tex *ktx.Texture) core1_0.ImageViewType {
	switch {
	case tex.IsCube():
		return core1_0.ImageViewTypeCube
	case tex.IsArray():
		return core1_0.ImageViewType2DArray
	default:
		return core1_0.ImageViewType2D
	}
}
