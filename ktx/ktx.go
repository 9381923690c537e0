// Package ktx reads textures from the Khronos KTX 1.1 container format.
//
// A KTX file carries a fully described GL texture: format enums, pixel
// dimensions, optional array layers, cube faces and mipmap levels, plus
// arbitrary key/value metadata. This package parses the container on the
// host; uploading the payload to a GPU is left to consumers.
package ktx

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// fileIdentifier is the 12-byte magic at the start of every KTX 1.1 file.
var fileIdentifier = [12]byte{0xAB, 'K', 'T', 'X', ' ', '1', '1', 0xBB, '\r', '\n', 0x1A, '\n'}

const (
	endiannessValue = 0x04030201
	headerSize      = 64 // identifier + 13 uint32 fields
)

// KeyValue is one metadata pair from the file's key/value data block.
// Keys are NUL-terminated UTF-8 in the container; the terminator is
// stripped here. Values are arbitrary bytes.
type KeyValue struct {
	Key   string
	Value []byte
}

// Level holds the pixel data for a single mipmap level. For array
// textures Data spans every layer of the level, layer 0 first.
type Level struct {
	Width  uint32
	Height uint32
	Depth  uint32
	Data   []byte
}

// Texture is a parsed KTX container.
type Texture struct {
	GLType               uint32
	GLTypeSize           uint32
	GLFormat             uint32
	GLInternalFormat     uint32
	GLBaseInternalFormat uint32

	PixelWidth  uint32
	PixelHeight uint32
	PixelDepth  uint32

	ArrayElements uint32
	Faces         uint32
	MipLevels     uint32

	KeyValues []KeyValue
	Levels    []Level
}

// LayerCount returns the number of array layers, at least 1.
func (t *Texture) LayerCount() uint32 {
	if t.ArrayElements == 0 {
		return 1
	}
	return t.ArrayElements
}

// LevelCount returns the number of mip levels stored in the file, at
// least 1. A file header may declare zero levels to request mipmap
// generation; such a file still stores exactly one level.
func (t *Texture) LevelCount() uint32 {
	return uint32(len(t.Levels))
}

// IsArray reports whether the texture has explicit array layers.
func (t *Texture) IsArray() bool {
	return t.ArrayElements > 0
}

// IsCube reports whether the texture is a cubemap.
func (t *Texture) IsCube() bool {
	return t.Faces == 6
}

// IsCompressed reports whether the payload uses a block-compressed
// format. Compressed KTX files set glType and glFormat to zero.
func (t *Texture) IsCompressed() bool {
	return t.GLType == 0
}

// Value returns the metadata value stored under key, if present.
func (t *Texture) Value(key string) ([]byte, bool) {
	for _, kv := range t.KeyValues {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// ReadFile parses the KTX file at path.
func ReadFile(path string) (*Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "ktx: open %q", path)
	}
	defer f.Close()

	tex, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "ktx: read %q", path)
	}
	return tex, nil
}

// Read parses a KTX container from r.
func Read(r io.Reader) (*Texture, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "ktx: read container")
	}
	return Decode(raw)
}

// Decode parses a KTX container held in memory.
func Decode(raw []byte) (*Texture, error) {
	if len(raw) < headerSize {
		return nil, errors.Newf("ktx: truncated header: %d bytes", len(raw))
	}

	var ident [12]byte
	copy(ident[:], raw[:12])
	if ident != fileIdentifier {
		return nil, errors.New("ktx: not a KTX 1.1 file (bad identifier)")
	}

	// The endianness word is 0x04030201 written in the producer's byte
	// order, so the order we decode it back with tells us the file's.
	var order binary.ByteOrder = binary.LittleEndian
	swapped := false
	switch binary.LittleEndian.Uint32(raw[12:16]) {
	case endiannessValue:
	case 0x01020304:
		order = binary.BigEndian
		swapped = true
	default:
		return nil, errors.Newf("ktx: bad endianness marker %#08x", binary.LittleEndian.Uint32(raw[12:16]))
	}

	tex := &Texture{}
	fields := []*uint32{
		&tex.GLType, &tex.GLTypeSize, &tex.GLFormat,
		&tex.GLInternalFormat, &tex.GLBaseInternalFormat,
		&tex.PixelWidth, &tex.PixelHeight, &tex.PixelDepth,
		&tex.ArrayElements, &tex.Faces, &tex.MipLevels,
	}
	off := 16
	for _, field := range fields {
		*field = order.Uint32(raw[off : off+4])
		off += 4
	}
	kvBytes := order.Uint32(raw[off : off+4])
	off += 4

	if tex.PixelWidth == 0 {
		return nil, errors.New("ktx: pixelWidth must not be zero")
	}
	if tex.Faces != 1 && tex.Faces != 6 {
		return nil, errors.Newf("ktx: numberOfFaces must be 1 or 6, got %d", tex.Faces)
	}
	if tex.Faces == 6 && (tex.PixelWidth != tex.PixelHeight || tex.PixelDepth != 0) {
		return nil, errors.New("ktx: cubemap faces must be square 2D images")
	}
	if tex.GLTypeSize != 1 && tex.GLTypeSize != 2 && tex.GLTypeSize != 4 {
		return nil, errors.Newf("ktx: unsupported glTypeSize %d", tex.GLTypeSize)
	}

	if int(kvBytes) > len(raw)-off {
		return nil, errors.Newf("ktx: key/value data (%d bytes) extends past end of file", kvBytes)
	}
	kvs, err := parseKeyValues(raw[off:off+int(kvBytes)], order)
	if err != nil {
		return nil, err
	}
	tex.KeyValues = kvs
	off += int(kvBytes)

	levelCount := tex.MipLevels
	if levelCount == 0 {
		levelCount = 1
	}

	for level := uint32(0); level < levelCount; level++ {
		if off+4 > len(raw) {
			return nil, errors.Newf("ktx: truncated at imageSize of level %d", level)
		}
		imageSize := int(order.Uint32(raw[off : off+4]))
		off += 4

		lvl := Level{
			Width:  mipDimension(tex.PixelWidth, level),
			Height: mipDimension(tex.PixelHeight, level),
			Depth:  tex.PixelDepth, // 0 for 2D; mip-reduced below when set
		}
		if lvl.Depth != 0 {
			lvl.Depth = mipDimension(tex.PixelDepth, level)
		}

		if tex.Faces == 6 && tex.ArrayElements == 0 {
			// Non-array cubemaps store each face separately, padded to
			// four bytes, with imageSize covering a single face.
			for face := 0; face < 6; face++ {
				if off+imageSize > len(raw) {
					return nil, errors.Newf("ktx: truncated pixel data in level %d face %d", level, face)
				}
				lvl.Data = append(lvl.Data, raw[off:off+imageSize]...)
				off += imageSize + pad4(imageSize)
			}
		} else {
			if off+imageSize > len(raw) {
				return nil, errors.Newf("ktx: truncated pixel data in level %d", level)
			}
			lvl.Data = append(lvl.Data, raw[off:off+imageSize]...)
			off += imageSize + pad4(imageSize)
		}

		if swapped && tex.GLTypeSize > 1 {
			swapWords(lvl.Data, int(tex.GLTypeSize))
		}
		tex.Levels = append(tex.Levels, lvl)
	}

	return tex, nil
}

func parseKeyValues(data []byte, order binary.ByteOrder) ([]KeyValue, error) {
	var kvs []KeyValue
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, errors.New("ktx: truncated key/value pair size")
		}
		pairSize := int(order.Uint32(data[off : off+4]))
		off += 4
		if off+pairSize > len(data) {
			return nil, errors.Newf("ktx: key/value pair (%d bytes) extends past block", pairSize)
		}
		pair := data[off : off+pairSize]

		sep := -1
		for i, b := range pair {
			if b == 0 {
				sep = i
				break
			}
		}
		if sep < 0 {
			return nil, errors.New("ktx: key/value pair missing NUL key terminator")
		}
		kvs = append(kvs, KeyValue{
			Key:   string(pair[:sep]),
			Value: append([]byte(nil), pair[sep+1:]...),
		})
		off += pairSize + pad4(pairSize)
	}
	return kvs, nil
}

// mipDimension returns a base dimension reduced to the given mip level,
// never below 1.
func mipDimension(base, level uint32) uint32 {
	d := base >> level
	if d == 0 {
		return 1
	}
	return d
}

// pad4 returns the padding needed to round n up to a 4-byte boundary.
func pad4(n int) int {
	return (4 - n%4) % 4
}

// swapWords byte-swaps each wordSize-sized group in place. Used to bring
// big-endian pixel data into the little-endian order the rest of the
// pipeline assumes.
func swapWords(data []byte, wordSize int) {
	for i := 0; i+wordSize <= len(data); i += wordSize {
		for a, b := i, i+wordSize-1; a < b; a, b = a+1, b-1 {
			data[a], data[b] = data[b], data[a]
		}
	}
}
