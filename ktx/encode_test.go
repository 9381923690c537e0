package ktx

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := &Texture{
		GLType:               0x1401, // GL_UNSIGNED_BYTE
		GLTypeSize:           1,
		GLFormat:             0x1908, // GL_RGBA
		GLInternalFormat:     0x8058, // GL_RGBA8
		GLBaseInternalFormat: 0x1908,
		PixelWidth:           2,
		PixelHeight:          2,
		ArrayElements:        3,
		Faces:                1,
		KeyValues: []KeyValue{
			{Key: "KTXorientation", Value: []byte("S=r,T=d\x00")},
		},
		Levels: []Level{
			{Width: 2, Height: 2, Data: bytes.Repeat([]byte{0xAA}, 2*2*4*3)},
			{Width: 1, Height: 1, Data: bytes.Repeat([]byte{0xBB}, 1*1*4*3)},
		},
	}

	raw, err := Encode(src)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	if got.ArrayElements != 3 || got.LayerCount() != 3 {
		t.Errorf("layer count = %d, want 3", got.LayerCount())
	}
	if got.LevelCount() != 2 {
		t.Fatalf("level count = %d, want 2", got.LevelCount())
	}
	for i := range src.Levels {
		if !bytes.Equal(got.Levels[i].Data, src.Levels[i].Data) {
			t.Errorf("level %d data does not survive the round trip", i)
		}
	}
	value, ok := got.Value("KTXorientation")
	if !ok || !bytes.Equal(value, []byte("S=r,T=d\x00")) {
		t.Errorf("orientation metadata = %q, %v", value, ok)
	}
}

func TestEncodeCubemapFacePadding(t *testing.T) {
	// A one-texel 8-bit face makes imageSize 1, so each stored face
	// needs 3 bytes of padding that decoding must skip over.
	src := &Texture{
		GLType:               0x1401,
		GLTypeSize:           1,
		GLFormat:             0x1903, // GL_RED
		GLInternalFormat:     0x8229, // GL_R8
		GLBaseInternalFormat: 0x1903,
		PixelWidth:           1,
		PixelHeight:          1,
		Faces:                6,
		Levels: []Level{
			{Width: 1, Height: 1, Data: []byte{0, 1, 2, 3, 4, 5}},
		},
	}

	raw, err := Encode(src)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsCube() {
		t.Error("decoded texture is not a cubemap")
	}
	if !bytes.Equal(got.Levels[0].Data, src.Levels[0].Data) {
		t.Errorf("face data = %v, want %v", got.Levels[0].Data, src.Levels[0].Data)
	}
}

func TestEncodeRejectsBadTextures(t *testing.T) {
	cases := []struct {
		name string
		tex  *Texture
	}{
		{"zero width", &Texture{GLTypeSize: 1, Levels: []Level{{}}}},
		{"bad faces", &Texture{PixelWidth: 1, GLTypeSize: 1, Faces: 4, Levels: []Level{{}}}},
		{"bad type size", &Texture{PixelWidth: 1, GLTypeSize: 3, Levels: []Level{{}}}},
		{"no levels", &Texture{PixelWidth: 1, GLTypeSize: 1}},
	}
	for _, tc := range cases {
		_, err := Encode(tc.tex)
		if err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}
