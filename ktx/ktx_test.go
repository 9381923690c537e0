package ktx_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ktxgo/texarray/ktx"
)

const (
	glUnsignedByte = 0x1401
	glRGBA         = 0x1908
	glRGBA8        = 0x8058
)

type fileSpec struct {
	order         binary.ByteOrder
	glType        uint32
	glTypeSize    uint32
	glFormat      uint32
	glInternal    uint32
	glBase        uint32
	width, height uint32
	depth         uint32
	arrayElems    uint32
	faces         uint32
	mipLevels     uint32
	keyValues     map[string][]byte
	levels        [][]byte
}

func buildKTX(t *testing.T, spec fileSpec) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	buf.Write([]byte{0xAB, 'K', 'T', 'X', ' ', '1', '1', 0xBB, '\r', '\n', 0x1A, '\n'})

	put := func(v uint32) {
		if err := binary.Write(buf, spec.order, v); err != nil {
			t.Fatal(err)
		}
	}

	var kvBlock bytes.Buffer
	for key, value := range spec.keyValues {
		pair := append(append([]byte(key), 0), value...)
		if err := binary.Write(&kvBlock, spec.order, uint32(len(pair))); err != nil {
			t.Fatal(err)
		}
		kvBlock.Write(pair)
		kvBlock.Write(make([]byte, (4-len(pair)%4)%4))
	}

	put(0x04030201)
	put(spec.glType)
	put(spec.glTypeSize)
	put(spec.glFormat)
	put(spec.glInternal)
	put(spec.glBase)
	put(spec.width)
	put(spec.height)
	put(spec.depth)
	put(spec.arrayElems)
	put(spec.faces)
	put(spec.mipLevels)
	put(uint32(kvBlock.Len()))
	buf.Write(kvBlock.Bytes())

	for _, level := range spec.levels {
		put(uint32(len(level)))
		buf.Write(level)
		buf.Write(make([]byte, (4-len(level)%4)%4))
	}

	return buf.Bytes()
}

func rgbaSpec(order binary.ByteOrder) fileSpec {
	// 4x4 RGBA8 2D array, 3 layers, 2 mip levels.
	return fileSpec{
		order:      order,
		glType:     glUnsignedByte,
		glTypeSize: 1,
		glFormat:   glRGBA,
		glInternal: glRGBA8,
		glBase:     glRGBA,
		width:      4,
		height:     4,
		arrayElems: 3,
		faces:      1,
		mipLevels:  2,
		levels: [][]byte{
			bytes.Repeat([]byte{0x11}, 4*4*4*3),
			bytes.Repeat([]byte{0x22}, 2*2*4*3),
		},
	}
}

func TestDecodeArrayTexture(t *testing.T) {
	tex, err := ktx.Decode(buildKTX(t, rgbaSpec(binary.LittleEndian)))
	if err != nil {
		t.Fatal(err)
	}

	if tex.GLInternalFormat != glRGBA8 {
		t.Errorf("glInternalFormat = %#x, want %#x", tex.GLInternalFormat, glRGBA8)
	}
	if tex.PixelWidth != 4 || tex.PixelHeight != 4 {
		t.Errorf("dimensions = %dx%d, want 4x4", tex.PixelWidth, tex.PixelHeight)
	}
	if !tex.IsArray() {
		t.Error("IsArray() = false, want true")
	}
	if tex.IsCompressed() {
		t.Error("IsCompressed() = true, want false")
	}
	if got := tex.LayerCount(); got != 3 {
		t.Errorf("LayerCount() = %d, want 3", got)
	}
	if got := tex.LevelCount(); got != 2 {
		t.Errorf("LevelCount() = %d, want 2", got)
	}
	if len(tex.Levels[0].Data) != 4*4*4*3 {
		t.Errorf("level 0 data = %d bytes, want %d", len(tex.Levels[0].Data), 4*4*4*3)
	}
	if tex.Levels[1].Width != 2 || tex.Levels[1].Height != 2 {
		t.Errorf("level 1 dimensions = %dx%d, want 2x2", tex.Levels[1].Width, tex.Levels[1].Height)
	}
}

func TestDecodeBigEndianHeader(t *testing.T) {
	tex, err := ktx.Decode(buildKTX(t, rgbaSpec(binary.BigEndian)))
	if err != nil {
		t.Fatal(err)
	}
	if tex.PixelWidth != 4 || tex.ArrayElements != 3 {
		t.Errorf("width/layers = %d/%d, want 4/3", tex.PixelWidth, tex.ArrayElements)
	}
	// glTypeSize 1 means byte data, so no word swapping may occur.
	if tex.Levels[0].Data[0] != 0x11 {
		t.Errorf("level 0 byte = %#x, want 0x11", tex.Levels[0].Data[0])
	}
}

func TestDecodeKeyValues(t *testing.T) {
	spec := rgbaSpec(binary.LittleEndian)
	spec.keyValues = map[string][]byte{
		"KTXorientation": []byte("S=r,T=d"),
	}

	tex, err := ktx.Decode(buildKTX(t, spec))
	if err != nil {
		t.Fatal(err)
	}

	value, ok := tex.Value("KTXorientation")
	if !ok {
		t.Fatal("KTXorientation key not found")
	}
	if string(value) != "S=r,T=d" {
		t.Errorf("KTXorientation = %q, want %q", value, "S=r,T=d")
	}
	if _, ok := tex.Value("missing"); ok {
		t.Error("Value(missing) reported a hit")
	}
}

func TestDecodeZeroMipLevelsStoresOne(t *testing.T) {
	spec := rgbaSpec(binary.LittleEndian)
	spec.mipLevels = 0
	spec.levels = spec.levels[:1]

	tex, err := ktx.Decode(buildKTX(t, spec))
	if err != nil {
		t.Fatal(err)
	}
	if got := tex.LevelCount(); got != 1 {
		t.Errorf("LevelCount() = %d, want 1", got)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	good := buildKTX(t, rgbaSpec(binary.LittleEndian))

	badIdent := append([]byte(nil), good...)
	badIdent[1] = 'Z'

	badEndian := append([]byte(nil), good...)
	copy(badEndian[12:16], []byte{0xFF, 0xFF, 0xFF, 0xFF})

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", good[:40]},
		{"bad identifier", badIdent},
		{"bad endianness", badEndian},
		{"truncated pixels", good[:len(good)-16]},
	}

	for _, tc := range cases {
		if _, err := ktx.Decode(tc.data); err == nil {
			t.Errorf("%s: Decode succeeded, want error", tc.name)
		}
	}
}

func TestDecodeRejectsBadFaceCount(t *testing.T) {
	spec := rgbaSpec(binary.LittleEndian)
	spec.faces = 3
	if _, err := ktx.Decode(buildKTX(t, spec)); err == nil {
		t.Error("Decode accepted numberOfFaces = 3")
	}
}

func TestReadMatchesDecode(t *testing.T) {
	raw := buildKTX(t, rgbaSpec(binary.LittleEndian))
	tex, err := ktx.Read(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got := tex.LayerCount(); got != 3 {
		t.Errorf("LayerCount() = %d, want 3", got)
	}
}
