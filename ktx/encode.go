package ktx

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

// Encode serializes a texture into KTX 1.1 container bytes, always in
// little-endian order. The texture must carry at least one level; for
// non-array cubemaps each level's Data must hold six equally sized
// faces.
func Encode(t *Texture) ([]byte, error) {
	if t.PixelWidth == 0 {
		return nil, errors.New("ktx: pixelWidth must not be zero")
	}
	faces := t.Faces
	if faces == 0 {
		faces = 1
	}
	if faces != 1 && faces != 6 {
		return nil, errors.Newf("ktx: numberOfFaces must be 1 or 6, got %d", faces)
	}
	if t.GLTypeSize != 1 && t.GLTypeSize != 2 && t.GLTypeSize != 4 {
		return nil, errors.Newf("ktx: unsupported glTypeSize %d", t.GLTypeSize)
	}
	if len(t.Levels) == 0 {
		return nil, errors.New("ktx: texture has no levels")
	}

	var kvBlock bytes.Buffer
	for _, kv := range t.KeyValues {
		pairLen := len(kv.Key) + 1 + len(kv.Value)
		binary.Write(&kvBlock, binary.LittleEndian, uint32(pairLen))
		kvBlock.WriteString(kv.Key)
		kvBlock.WriteByte(0)
		kvBlock.Write(kv.Value)
		kvBlock.Write(make([]byte, pad4(pairLen)))
	}

	buf := &bytes.Buffer{}
	buf.Write(fileIdentifier[:])

	header := []uint32{
		endiannessValue,
		t.GLType, t.GLTypeSize, t.GLFormat,
		t.GLInternalFormat, t.GLBaseInternalFormat,
		t.PixelWidth, t.PixelHeight, t.PixelDepth,
		t.ArrayElements, faces, uint32(len(t.Levels)),
		uint32(kvBlock.Len()),
	}
	for _, field := range header {
		binary.Write(buf, binary.LittleEndian, field)
	}
	buf.Write(kvBlock.Bytes())

	for i, lvl := range t.Levels {
		if faces == 6 && t.ArrayElements == 0 {
			if len(lvl.Data)%6 != 0 {
				return nil, errors.Newf("ktx: level %d data does not split into 6 faces", i)
			}
			faceSize := len(lvl.Data) / 6
			binary.Write(buf, binary.LittleEndian, uint32(faceSize))
			for face := 0; face < 6; face++ {
				buf.Write(lvl.Data[face*faceSize : (face+1)*faceSize])
				buf.Write(make([]byte, pad4(faceSize)))
			}
		} else {
			binary.Write(buf, binary.LittleEndian, uint32(len(lvl.Data)))
			buf.Write(lvl.Data)
			buf.Write(make([]byte, pad4(len(lvl.Data))))
		}
	}

	return buf.Bytes(), nil
}

// WriteFile encodes the texture and writes it to path.
func WriteFile(path string, t *Texture) error {
	raw, err := Encode(t)
	if err != nil {
		return err
	}
	err = os.WriteFile(path, raw, 0o644)
	if err != nil {
		return errors.Wrapf(err, "ktx: write %q", path)
	}
	return nil
}
