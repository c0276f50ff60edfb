package processor

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/kozaktomas/face-occluder/internal/assets/assetstest"
	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/embedding"
	"github.com/kozaktomas/face-occluder/internal/embedding/embeddingtest"
	"github.com/kozaktomas/face-occluder/internal/facematch"
	"github.com/kozaktomas/face-occluder/internal/logging"
	"github.com/kozaktomas/face-occluder/internal/overlay"
	"github.com/kozaktomas/face-occluder/internal/page"
)

var (
	targetColor    = color.RGBA{R: 192, A: 255}
	strangerColor  = color.RGBA{G: 192, A: 255}
	landscapeColor = color.RGBA{B: 192, A: 255}
	brokenColor    = color.RGBA{R: 64, G: 64, A: 255}
	slowColor      = color.RGBA{R: 128, B: 128, A: 255}
)

type fixture struct {
	page    *page.Page
	fetcher *assetstest.MapFetcher
	fake    *embeddingtest.Fake
	proc    *Processor
}

const base = "https://feed.example.com/"

func newFixture(t *testing.T, doc string, opts Options) *fixture {
	t.Helper()

	pg, err := page.ParseString(doc, base)
	require.NoError(t, err)

	fetcher := assetstest.NewMapFetcher()
	fetcher.Put(base+"target.jpg", embeddingtest.SolidJPEG(targetColor, 120, 90))
	fetcher.Put(base+"stranger.jpg", embeddingtest.SolidJPEG(strangerColor, 120, 90))
	fetcher.Put(base+"landscape.png", embeddingtest.SolidPNG(landscapeColor, 120, 90))
	fetcher.Put(base+"broken.jpg", embeddingtest.SolidJPEG(brokenColor, 120, 90))
	fetcher.Put(base+"slow.jpg", embeddingtest.SolidJPEG(slowColor, 120, 90))
	fetcher.Put(base+"corrupt.jpg", []byte("not an image at all"))
	fetcher.Put(base+"huge.png", embeddingtest.OversizedPNG(40000, 40000))

	reference := embeddingtest.Descriptor(constants.DescriptorDim, 0)
	fake := embeddingtest.NewFake()
	fake.Register(targetColor,
		embedding.Face{Index: 0, Descriptor: embeddingtest.Descriptor(constants.DescriptorDim, 0.9), BBox: []float64{0, 0, 10, 10}, Score: 0.9},
		embedding.Face{Index: 1, Descriptor: embeddingtest.Descriptor(constants.DescriptorDim, 0.2), BBox: []float64{60, 0, 120, 90}, Score: 0.8},
	)
	fake.Register(strangerColor,
		embedding.Face{Index: 0, Descriptor: embeddingtest.Descriptor(constants.DescriptorDim, 0.8), Score: 0.9},
	)
	fake.Register(slowColor,
		embedding.Face{Index: 0, Descriptor: embeddingtest.Descriptor(constants.DescriptorDim, 0.1), Score: 0.9},
	)
	fake.Fail(brokenColor, errors.New("model exploded"))

	pool, err := overlay.NewPool([]string{"file:///ext/mao1.jpg", "file:///ext/mao2.jpeg"}, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	proc := New(pg, fetcher, fake, facematch.NewMatcher(reference, "", 0), pool, nil, opts)
	return &fixture{page: pg, fetcher: fetcher, fake: fake, proc: proc}
}

func (f *fixture) img(t *testing.T, id string) *html.Node {
	t.Helper()
	n, err := f.page.QuerySelector("#" + id)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func (f *fixture) overlays(t *testing.T) []*html.Node {
	t.Helper()
	nodes, err := f.page.QuerySelectorAll("img[data-overlay-id]")
	require.NoError(t, err)
	return nodes
}

const doc = `<body>
<img id="target" src="/target.jpg" width="600" height="400">
<img id="stranger" src="/stranger.jpg" width="600" height="400">
<img id="landscape" src="/landscape.png" width="600" height="400">
<img id="broken" src="/broken.jpg" width="600" height="400">
<img id="slow" src="/slow.jpg" width="600" height="400">
<img id="corrupt" src="/corrupt.jpg" width="600" height="400">
<img id="missing" src="/missing.jpg" width="600" height="400">
<img id="nosrc" width="600" height="400">
<img id="huge" src="/huge.png" width="600" height="400">
<img id="icon" src="/target.jpg" width="40" height="40">
<img id="thin" src="/target.jpg" width="600" height="400" data-natural-width="600" data-natural-height="50">
</body>`

func TestProcess_Matched(t *testing.T) {
	f := newFixture(t, doc, Options{})
	target := f.img(t, "target")

	outcome := f.proc.Process(context.Background(), target)
	require.Equal(t, Matched, outcome)

	assert.Equal(t, "0", f.page.Style(target, "opacity"))
	assert.True(t, f.page.HasClass(target, constants.OverlayClass))

	overlays := f.overlays(t)
	require.Len(t, overlays, 1)
	assert.Contains(t, []string{"file:///ext/mao1.jpg", "file:///ext/mao2.jpeg"}, page.Attr(overlays[0], "src"))
	assert.Contains(t, page.Attr(overlays[0], "style"), "width: 600px; height: 400px")
}

func TestProcess_UnrelatedFace(t *testing.T) {
	f := newFixture(t, doc, Options{})
	stranger := f.img(t, "stranger")

	assert.Equal(t, NoMatch, f.proc.Process(context.Background(), stranger))
	assert.Empty(t, f.overlays(t))
	assert.Equal(t, "", f.page.Style(stranger, "opacity"))
	assert.False(t, f.page.HasClass(stranger, constants.OverlayClass))
}

func TestProcess_NoFace(t *testing.T) {
	f := newFixture(t, doc, Options{})
	assert.Equal(t, NoFace, f.proc.Process(context.Background(), f.img(t, "landscape")))
	assert.Empty(t, f.overlays(t))
}

func TestProcess_SmallImagesNeverReachProvider(t *testing.T) {
	f := newFixture(t, doc, Options{})

	for _, id := range []string{"icon", "thin"} {
		t.Run(id, func(t *testing.T) {
			assert.Equal(t, Skipped, f.proc.Process(context.Background(), f.img(t, id)))
		})
	}

	assert.Equal(t, 0, f.fake.Calls())
	assert.Zero(t, f.fetcher.Total())
}

func TestProcess_SizeBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t, `<body>
<img id="at" src="/target.jpg" width="50" height="300">
<img id="above" src="/target.jpg" width="51" height="51">
</body>`, Options{})

	assert.True(t, f.proc.TooSmall(f.img(t, "at")))
	assert.False(t, f.proc.TooSmall(f.img(t, "above")))
}

func TestProcess_RenderedSizeFallback(t *testing.T) {
	f := newFixture(t, `<body><img id="x" src="/target.jpg"></body>`, Options{})
	x := f.img(t, "x")

	assert.True(t, f.proc.TooSmall(x), "no size at all counts as too small")

	f.page.SetRect(x, page.Rect{W: 300, H: 200})
	assert.False(t, f.proc.TooSmall(x))
}

func TestProcess_Failures(t *testing.T) {
	f := newFixture(t, doc, Options{})

	for _, id := range []string{"broken", "corrupt", "missing", "nosrc", "huge"} {
		t.Run(id, func(t *testing.T) {
			img := f.img(t, id)
			assert.Equal(t, Failed, f.proc.Process(context.Background(), img))
			assert.Equal(t, "", f.page.Style(img, "opacity"))
		})
	}
	assert.Empty(t, f.overlays(t))
}

func TestProcess_FailureDoesNotAffectOtherImages(t *testing.T) {
	f := newFixture(t, doc, Options{})

	var wg sync.WaitGroup
	outcomes := make(map[string]Outcome)
	var mu sync.Mutex
	for _, id := range []string{"broken", "target"} {
		img := f.img(t, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := f.proc.Process(context.Background(), img)
			mu.Lock()
			outcomes[id] = o
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, Failed, outcomes["broken"])
	assert.Equal(t, Matched, outcomes["target"])
	assert.Len(t, f.overlays(t), 1)
}

func TestProcess_LogsPreparedImage(t *testing.T) {
	f := newFixture(t, doc, Options{})
	var buf bytes.Buffer
	f.proc.logger = logging.New(&buf, "json", slog.LevelDebug).WithComponent("processor")

	assert.Equal(t, NoFace, f.proc.Process(context.Background(), f.img(t, "landscape")))
	assert.Contains(t, buf.String(), `"msg":"image prepared"`)
	assert.Contains(t, buf.String(), `"format":"png"`)
	assert.Contains(t, buf.String(), `"width":120`)
}

func TestProcess_LocalFileSourceIsNeverRead(t *testing.T) {
	f := newFixture(t, `<body><img id="local" src="file:///etc/passwd" width="600" height="400"></body>`, Options{})
	f.fetcher.Put("file:///etc/passwd", embeddingtest.SolidJPEG(targetColor, 120, 90))

	assert.Equal(t, Failed, f.proc.Process(context.Background(), f.img(t, "local")))
	assert.Zero(t, f.fetcher.Calls("file:///etc/passwd"))
	assert.Zero(t, f.fake.Calls())
}

func TestProcess_OversizedImageFailsBeforeDecoding(t *testing.T) {
	f := newFixture(t, doc, Options{})

	assert.Equal(t, Failed, f.proc.Process(context.Background(), f.img(t, "huge")))
	assert.Zero(t, f.fake.Calls())

	assert.Equal(t, Matched, f.proc.Process(context.Background(), f.img(t, "target")))
}

func TestProcess_HangingImageDoesNotStallOthers(t *testing.T) {
	f := newFixture(t, doc, Options{})
	release := f.fake.Block(slowColor)
	defer release()

	slow := f.img(t, "slow")
	slowDone := make(chan Outcome, 1)
	go func() { slowDone <- f.proc.Process(context.Background(), slow) }()

	assert.Equal(t, Matched, f.proc.Process(context.Background(), f.img(t, "target")))

	select {
	case <-slowDone:
		t.Fatal("blocked image finished before release")
	default:
	}

	release()
	select {
	case o := <-slowDone:
		assert.Equal(t, Matched, o)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked image never finished")
	}
	assert.Len(t, f.overlays(t), 2)
}

func TestProcess_RedispatchIsIdempotent(t *testing.T) {
	f := newFixture(t, doc, Options{})
	target := f.img(t, "target")

	require.Equal(t, Matched, f.proc.Process(context.Background(), target))
	assert.Equal(t, Handled, f.proc.Process(context.Background(), target))

	assert.Len(t, f.overlays(t), 1)
	assert.Equal(t, 1, f.fake.Calls())
}

func TestProcess_ConcurrentRedispatchProducesOneOverlay(t *testing.T) {
	f := newFixture(t, doc, Options{})
	target := f.img(t, "target")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.proc.Process(context.Background(), target)
		}()
	}
	wg.Wait()

	assert.Len(t, f.overlays(t), 1)
}

func TestProcess_InFlightLimitHonoursContext(t *testing.T) {
	f := newFixture(t, doc, Options{MaxInFlight: 1})
	release := f.fake.Block(slowColor)
	defer release()

	go f.proc.Process(context.Background(), f.img(t, "slow"))
	require.Eventually(t, func() bool { return f.fake.Calls() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, Failed, f.proc.Process(ctx, f.img(t, "target")))
	assert.Equal(t, 1, f.fake.Calls())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "matched", Matched.String())
	assert.Equal(t, "no_face", NoFace.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
