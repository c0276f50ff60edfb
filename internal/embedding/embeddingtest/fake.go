// Package embeddingtest provides an in-memory face provider and a fake face
// embedding service for tests.
//
// Images are identified by their average colour, so tests draw solid images
// and register which faces each colour "contains". This survives the JPEG
// re-encoding done before images reach the provider.
package embeddingtest

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-occluder/internal/embedding"
)

// Key identifies an image by its quantized average colour.
type Key [3]int

// KeyOf quantizes a colour into a Key.
func KeyOf(c color.Color) Key {
	r, g, b, _ := c.RGBA()
	return Key{quantize(r >> 8), quantize(g >> 8), quantize(b >> 8)}
}

func quantize(v uint32) int {
	return int(math.Round(float64(v) / 32))
}

// KeyOfImage decodes data and returns the Key of its average colour.
func KeyOfImage(data []byte) (Key, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Key{}, err
	}

	var sr, sg, sb, n uint64
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sr += uint64(r >> 8)
			sg += uint64(g >> 8)
			sb += uint64(bl >> 8)
			n++
		}
	}
	if n == 0 {
		return Key{}, nil
	}
	avg := color.RGBA{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n), A: 255}
	return KeyOf(avg), nil
}

// Fake is an in-memory embedding.Provider.
type Fake struct {
	mu      sync.Mutex
	faces   map[Key][]embedding.Face
	errs    map[Key]error
	blocks  map[Key]chan struct{}
	loadErr error

	loads atomic.Int64
	calls atomic.Int64
}

// NewFake creates a Fake that finds no faces anywhere.
func NewFake() *Fake {
	return &Fake{
		faces:  make(map[Key][]embedding.Face),
		errs:   make(map[Key]error),
		blocks: make(map[Key]chan struct{}),
	}
}

// Register declares the faces found in images of colour c.
func (f *Fake) Register(c color.Color, faces ...embedding.Face) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[KeyOf(c)] = faces
}

// Fail makes detection on images of colour c return err.
func (f *Fake) Fail(c color.Color, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[KeyOf(c)] = err
}

// Block makes detection on images of colour c hang until release is called
// or the caller's context ends.
func (f *Fake) Block(c color.Color) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocks[KeyOf(c)] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// FailLoad makes LoadModels return err.
func (f *Fake) FailLoad(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadErr = err
}

// Loads returns how many times LoadModels was called.
func (f *Fake) Loads() int {
	return int(f.loads.Load())
}

// Calls returns how many detection calls were made.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

// LoadModels implements embedding.Provider.
func (f *Fake) LoadModels(context.Context) error {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadErr
}

// DetectAll implements embedding.Provider.
func (f *Fake) DetectAll(ctx context.Context, imageData []byte) ([]embedding.Face, error) {
	f.calls.Add(1)

	key, err := KeyOfImage(imageData)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	block := f.blocks[key]
	err = f.errs[key]
	faces := append([]embedding.Face(nil), f.faces[key]...)
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return faces, nil
}

// DetectSingle implements embedding.Provider.
func (f *Fake) DetectSingle(ctx context.Context, imageData []byte) (*embedding.Face, error) {
	faces, err := f.DetectAll(ctx, imageData)
	if err != nil {
		return nil, err
	}
	return embedding.BestFace(faces), nil
}

// Solid returns a w×h image filled with c.
func Solid(c color.Color, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

// SolidJPEG returns a JPEG-encoded solid image.
func SolidJPEG(c color.Color, w, h int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, Solid(c, w, h), &jpeg.Options{Quality: 95})
	return buf.Bytes()
}

// SolidPNG returns a PNG-encoded solid image.
func SolidPNG(c color.Color, w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, Solid(c, w, h))
	return buf.Bytes()
}

// OversizedPNG returns a small valid PNG whose header declares w×h pixels.
func OversizedPNG(w, h uint32) []byte {
	data := SolidPNG(color.White, 8, 8)
	// signature(8), IHDR length(4) and type(4), then width and height, CRC after 13 data bytes
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

// Descriptor returns a descriptor of length dim whose first value is v and the rest 0.
func Descriptor(dim int, v float32) embedding.Descriptor {
	d := make(embedding.Descriptor, dim)
	if dim > 0 {
		d[0] = v
	}
	return d
}
