package page

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// layoutSubtree stacks every sized image under n below the current content.
// Images without width and height attributes get no box and never become visible
// until SetRect is called for them. Callers hold p.mu.
func (p *Page) layoutSubtree(n *html.Node) {
	for _, img := range Images(n) {
		w := parseLength(Attr(img, "width"))
		h := parseLength(Attr(img, "height"))
		if w <= 0 || h <= 0 {
			continue
		}

		p.rects[img] = Rect{X: 0, Y: p.height, W: w, H: h}
		p.height += h

		natural := Size{W: int(w), H: int(h)}
		if nw := parseLength(Attr(img, "data-natural-width")); nw > 0 {
			natural.W = int(nw)
		}
		if nh := parseLength(Attr(img, "data-natural-height")); nh > 0 {
			natural.H = int(nh)
		}
		p.natural[img] = natural
	}
}

// parseLength reads "120" or "120px". Anything else is 0.
func parseLength(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// SetRect places n at r in document coordinates.
func (p *Page) SetRect(n *html.Node, r Rect) {
	p.mu.Lock()
	p.rects[n] = r
	if bottom := r.Y + r.H; bottom > p.height {
		p.height = bottom
	}
	deliveries := p.evaluateIntersections()
	p.mu.Unlock()

	deliverIntersections(deliveries)
}

// Rect returns n's box in document coordinates.
func (p *Page) Rect(n *html.Node) Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rects[n]
}

// BoundingClientRect returns n's box relative to the viewport.
func (p *Page) BoundingClientRect(n *html.Node) Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rects[n].Translate(-p.scrollX, -p.scrollY)
}

// SetNaturalSize records the intrinsic size of an image.
func (p *Page) SetNaturalSize(n *html.Node, s Size) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.natural[n] = s
}

// NaturalSize returns the intrinsic size of an image, or the zero Size when unknown.
func (p *Page) NaturalSize(n *html.Node) Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.natural[n]
}

// DocumentHeight returns the height of the laid out content.
func (p *Page) DocumentHeight() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// SetViewport resizes the viewport.
func (p *Page) SetViewport(w, h int) {
	p.mu.Lock()
	p.viewport = Size{W: w, H: h}
	deliveries := p.evaluateIntersections()
	p.mu.Unlock()

	deliverIntersections(deliveries)
}

// Viewport returns the viewport size.
func (p *Page) Viewport() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

// ScrollTo moves the viewport so its top-left corner is at x, y.
func (p *Page) ScrollTo(x, y float64) {
	p.mu.Lock()
	p.scrollX, p.scrollY = max(x, 0), max(y, 0)
	deliveries := p.evaluateIntersections()
	p.mu.Unlock()

	deliverIntersections(deliveries)
}

// ScrollOffset returns the current scroll position.
func (p *Page) ScrollOffset() (x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollX, p.scrollY
}

// viewportRect returns the visible area in document coordinates. Callers hold p.mu.
func (p *Page) viewportRect() Rect {
	return Rect{X: p.scrollX, Y: p.scrollY, W: float64(p.viewport.W), H: float64(p.viewport.H)}
}
