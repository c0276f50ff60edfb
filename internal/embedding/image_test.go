package embedding

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestPrepare_NoResizeNeeded(t *testing.T) {
	data := encodePNG(createTestImage(100, 80, color.White))

	prepared, err := Prepare(data, 200)
	require.NoError(t, err)

	assert.Equal(t, "png", prepared.Format)
	assert.Equal(t, 100, prepared.Width)
	assert.Equal(t, 80, prepared.Height)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(prepared.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
}

func TestPrepare_LandscapeDownscale(t *testing.T) {
	data := encodePNG(createTestImage(400, 200, color.Black))

	prepared, err := Prepare(data, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, prepared.Width)
	assert.Equal(t, 50, prepared.Height)
}

func TestPrepare_PortraitDownscale(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, createTestImage(150, 300, color.Gray{Y: 128}), nil))

	prepared, err := Prepare(buf.Bytes(), 100)
	require.NoError(t, err)
	assert.Equal(t, 50, prepared.Width)
	assert.Equal(t, 100, prepared.Height)
	assert.Equal(t, "jpeg", prepared.Format)
}

func TestPrepare_InvalidData(t *testing.T) {
	_, err := Prepare([]byte("definitely not an image"), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode image")
}

// withPNGSize rewrites the IHDR dimensions of an encoded PNG and fixes the chunk CRC.
func withPNGSize(data []byte, width, height uint32) []byte {
	out := bytes.Clone(data)
	// 8-byte signature, then IHDR: length(4) type(4) width(4) height(4) ... crc(4)
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestPrepare_RejectsHugeDeclaredSize(t *testing.T) {
	data := withPNGSize(encodePNG(createTestImage(8, 8, color.White)), 40000, 40000)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err, "header stays valid")
	require.Equal(t, 40000, cfg.Width)

	_, err = Prepare(data, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.Contains(t, err.Error(), "40000x40000")
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a\x00\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte("hello world"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectMIMEType(tt.data))
		})
	}
}
