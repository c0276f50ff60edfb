package page

// Rect is an axis-aligned box. X and Y are the top-left corner.
type Rect struct {
	X, Y, W, H float64
}

// Size is a width and height in pixels.
type Size struct {
	W, H int
}

// Area returns the area of the rectangle, 0 for degenerate boxes.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle covers no area.
func (r Rect) Empty() bool {
	return r.Area() == 0
}

// Intersect returns the overlap of r and o, or the zero Rect when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.W, o.X+o.W)
	y2 := min(r.Y+r.H, o.Y+o.H)

	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Translate returns r moved by dx, dy.
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// VisibleRatio returns the fraction of r that lies within viewport.
func (r Rect) VisibleRatio(viewport Rect) float64 {
	area := r.Area()
	if area == 0 {
		return 0
	}
	return r.Intersect(viewport).Area() / area
}
