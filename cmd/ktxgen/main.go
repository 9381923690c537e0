// Command ktxgen writes an uncompressed RGBA8 KTX 2D array texture with
// a full mip chain, one distinctly colored layer per array element. It
// exists so the load test can run without external texture downloads.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/ktxgo/texarray/ktx"
)

const (
	glUnsignedByte = 0x1401
	glRGBA         = 0x1908
	glRGBA8        = 0x8058
)

var layerColors = [][3]byte{
	{0xE6, 0x3C, 0x3C},
	{0xE6, 0x9A, 0x3C},
	{0xE6, 0xE6, 0x3C},
	{0x3C, 0xE6, 0x3C},
	{0x3C, 0xE6, 0xE6},
	{0x3C, 0x9A, 0xE6},
	{0x3C, 0x3C, 0xE6},
	{0xE6, 0x3C, 0xE6},
}

// layerPixels renders one layer at the given mip resolution: the layer
// color over a checkerboard so mip transitions stay visible.
func layerPixels(layer, width, height int) []byte {
	color := layerColors[layer%len(layerColors)]

	pixels := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			shade := uint16(255)
			if (x/4+y/4)%2 == 0 {
				shade = 192
			}
			i := (y*width + x) * 4
			pixels[i+0] = byte(uint16(color[0]) * shade / 255)
			pixels[i+1] = byte(uint16(color[1]) * shade / 255)
			pixels[i+2] = byte(uint16(color[2]) * shade / 255)
			pixels[i+3] = 0xFF
		}
	}
	return pixels
}

func buildTexture(size, layers int) *ktx.Texture {
	tex := &ktx.Texture{
		GLType:               glUnsignedByte,
		GLTypeSize:           1,
		GLFormat:             glRGBA,
		GLInternalFormat:     glRGBA8,
		GLBaseInternalFormat: glRGBA,
		PixelWidth:           uint32(size),
		PixelHeight:          uint32(size),
		ArrayElements:        uint32(layers),
		Faces:                1,
		KeyValues: []ktx.KeyValue{
			{Key: "KTXorientation", Value: []byte("S=r,T=d\x00")},
		},
	}

	for width := size; ; width /= 2 {
		lvl := ktx.Level{Width: uint32(width), Height: uint32(width)}
		for layer := 0; layer < layers; layer++ {
			lvl.Data = append(lvl.Data, layerPixels(layer, width, width)...)
		}
		tex.Levels = append(tex.Levels, lvl)
		if width == 1 {
			break
		}
	}
	return tex
}

func run(out string, size, layers int) error {
	if size <= 0 || size&(size-1) != 0 {
		return errors.Newf("size %d is not a positive power of two", size)
	}
	if layers <= 0 {
		return errors.Newf("layer count %d is not positive", layers)
	}

	tex := buildTexture(size, layers)
	return ktx.WriteFile(out, tex)
}

func main() {
	out := flag.String("out", "assets/textures/texturearray_rgba.ktx", "output file")
	size := flag.Int("size", 256, "texture extent, a power of two")
	layers := flag.Int("layers", 7, "number of array layers")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "ktxgen",
	})

	err := run(*out, *size, *layers)
	if err != nil {
		logger.Fatalf("%+v", err)
	}
	logger.Info("wrote texture array", "file", *out, "size", *size, "layers", *layers)
}
