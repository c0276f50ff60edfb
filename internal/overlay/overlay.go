// Package overlay hides a matched image behind a randomly chosen substitute.
package overlay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/page"
)

// ErrEmptyPool is returned when a pool is built without substitutes.
var ErrEmptyPool = errors.New("overlay pool is empty")

// Pool is a fixed set of substitute image URLs.
type Pool struct {
	mu   sync.Mutex
	urls []string
	rng  *rand.Rand
}

// NewPool creates a pool. A nil rng uses a randomly seeded PCG source.
func NewPool(urls []string, rng *rand.Rand) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyPool
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Pool{urls: append([]string(nil), urls...), rng: rng}, nil
}

// Pick returns a substitute chosen uniformly at random.
func (p *Pool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.rng.IntN(len(p.urls))]
}

// Len returns the number of substitutes.
func (p *Pool) Len() int {
	return len(p.urls)
}

// Apply covers img with an absolutely positioned overlay showing src. The
// original stays in the layout with opacity 0 and both elements carry the
// overlay class. It returns the overlay, or nil and false when img was already
// handled.
func Apply(pg *page.Page, img *html.Node, src string) (*html.Node, bool) {
	if !pg.MarkOnce(img, constants.OverlayClass) {
		return nil, false
	}

	// Document space, read in one step so a concurrent scroll cannot shift it.
	rect := pg.Rect(img)

	overlay := page.NewElement("img")
	overlay.Attr = []html.Attribute{
		{Key: "src", Val: src},
		{Key: "class", Val: constants.OverlayClass},
		{Key: "data-overlay-id", Val: uuid.NewString()},
		{Key: "style", Val: fmt.Sprintf(
			"position: absolute; left: %spx; top: %spx; width: %spx; height: %spx",
			px(rect.X), px(rect.Y), px(rect.W), px(rect.H),
		)},
	}

	pg.AppendChild(pg.Body(), overlay)
	pg.SetStyle(img, "opacity", "0")
	return overlay, true
}

func px(v float64) string {
	return fmt.Sprintf("%g", v)
}
