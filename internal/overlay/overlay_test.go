package overlay

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/page"
)

func TestNewPool_Empty(t *testing.T) {
	_, err := NewPool(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestPool_PickIsUniform(t *testing.T) {
	urls := []string{"mao1.jpg", "mao2.jpeg", "mao3.jpeg"}
	pool, err := NewPool(urls, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Len())

	counts := make(map[string]int)
	const n = 3000
	for range n {
		counts[pool.Pick()]++
	}

	for _, u := range urls {
		// Expect ~1000 each; a generous band keeps this stable.
		assert.InDelta(t, n/3, counts[u], 150, "pick count for %s", u)
	}
}

func TestApply(t *testing.T) {
	pg, err := page.ParseString(`<body>
<img id="spacer" width="10" height="1000">
<img id="photo" src="photo.jpg" width="600" height="400">
</body>`, "")
	require.NoError(t, err)

	photo, err := pg.QuerySelector("#photo")
	require.NoError(t, err)

	pg.ScrollTo(0, 900)

	overlay, ok := Apply(pg, photo, "file:///ext/mao2.jpeg")
	require.True(t, ok)
	require.NotNil(t, overlay)

	// The overlay sits at the document position regardless of the scroll offset.
	assert.Equal(t, "position: absolute; left: 0px; top: 1000px; width: 600px; height: 400px", page.Attr(overlay, "style"))
	assert.Equal(t, "file:///ext/mao2.jpeg", page.Attr(overlay, "src"))
	assert.True(t, pg.HasClass(overlay, constants.OverlayClass))
	_, err = uuid.Parse(page.Attr(overlay, "data-overlay-id"))
	assert.NoError(t, err)
	assert.Equal(t, pg.Body(), overlay.Parent)

	// The original stays in the document, transparent and marked.
	assert.Equal(t, "0", pg.Style(photo, "opacity"))
	assert.True(t, pg.HasClass(photo, constants.OverlayClass))
	assert.NotNil(t, photo.Parent)
}

func TestApply_SecondCallIsNoop(t *testing.T) {
	pg, err := page.ParseString(`<body><img id="photo" src="photo.jpg" width="600" height="400"></body>`, "")
	require.NoError(t, err)
	photo, err := pg.QuerySelector("#photo")
	require.NoError(t, err)

	_, ok := Apply(pg, photo, "a.jpg")
	require.True(t, ok)

	overlay, ok := Apply(pg, photo, "b.jpg")
	assert.False(t, ok)
	assert.Nil(t, overlay)

	overlays, err := pg.QuerySelectorAll("img[data-overlay-id]")
	require.NoError(t, err)
	assert.Len(t, overlays, 1)
}

func TestApply_PositionStableWhileScrolling(t *testing.T) {
	const n = 50
	var doc string
	for i := range n {
		doc += fmt.Sprintf(`<img id="p%d" src="p.jpg" width="600" height="400">`, i)
	}
	pg, err := page.ParseString("<body>"+doc+"</body>", "")
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for y := 0.0; ; y += 37 {
			select {
			case <-stop:
				return
			default:
			}
			pg.ScrollTo(0, float64(int(y)%(n*400)))
		}
	}()

	for i := range n {
		photo, err := pg.QuerySelector(fmt.Sprintf("#p%d", i))
		require.NoError(t, err)

		overlay, ok := Apply(pg, photo, "a.jpg")
		require.True(t, ok)

		r := pg.Rect(photo)
		want := fmt.Sprintf("position: absolute; left: 0px; top: %gpx; width: 600px; height: 400px", r.Y)
		assert.Equal(t, want, page.Attr(overlay, "style"), "overlay for #p%d", i)
	}

	close(stop)
	wg.Wait()
}
