package page

import (
	"slices"
	"sync/atomic"

	"golang.org/x/net/html"
)

// MutationRecord describes nodes inserted under Target.
type MutationRecord struct {
	Target     *html.Node
	AddedNodes []*html.Node
}

// MutationCallback receives the records produced by one change.
type MutationCallback func(records []MutationRecord, observer *MutationObserver)

// MutationObserver reports child insertions under an observed node.
type MutationObserver struct {
	page     *Page
	callback MutationCallback
	target   *html.Node
	subtree  bool
	closed   atomic.Bool
}

type mutationDelivery struct {
	observer *MutationObserver
	record   MutationRecord
}

// NewMutationObserver creates an observer that does nothing until Observe is called.
func (p *Page) NewMutationObserver(cb MutationCallback) *MutationObserver {
	return &MutationObserver{page: p, callback: cb}
}

// Observe starts reporting insertions directly under target, or anywhere below
// it when subtree is set. Calling Observe again replaces the previous target.
func (m *MutationObserver) Observe(target *html.Node, subtree bool) {
	p := m.page
	p.mu.Lock()
	defer p.mu.Unlock()

	m.target = target
	m.subtree = subtree
	m.closed.Store(false)
	if !slices.Contains(p.mutationObservers, m) {
		p.mutationObservers = append(p.mutationObservers, m)
	}
}

// Disconnect stops all reporting.
func (m *MutationObserver) Disconnect() {
	p := m.page
	p.mu.Lock()
	defer p.mu.Unlock()

	m.closed.Store(true)
	p.mutationObservers = slices.DeleteFunc(p.mutationObservers, func(o *MutationObserver) bool { return o == m })
}

// mutationsFor collects the deliveries for nodes added under parent. Callers hold p.mu.
func (p *Page) mutationsFor(parent *html.Node, added []*html.Node) []mutationDelivery {
	var out []mutationDelivery
	for _, m := range p.mutationObservers {
		if m.target == parent || (m.subtree && isAncestor(m.target, parent)) {
			out = append(out, mutationDelivery{
				observer: m,
				record:   MutationRecord{Target: parent, AddedNodes: slices.Clone(added)},
			})
		}
	}
	return out
}

func deliverMutations(ds []mutationDelivery) {
	for _, d := range ds {
		if d.observer.closed.Load() {
			continue
		}
		d.observer.callback([]MutationRecord{d.record}, d.observer)
	}
}

func isAncestor(ancestor, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == ancestor {
			return true
		}
	}
	return false
}

// IntersectionEntry describes the visibility of one target.
type IntersectionEntry struct {
	Target             *html.Node
	BoundingClientRect Rect
	IntersectionRatio  float64
	IsIntersecting     bool
}

// IntersectionCallback receives entries whose intersecting state changed.
type IntersectionCallback func(entries []IntersectionEntry, observer *IntersectionObserver)

// IntersectionObserver reports when targets enter or leave the viewport.
// The root is the viewport and the root margin is always zero.
type IntersectionObserver struct {
	page      *Page
	callback  IntersectionCallback
	threshold float64
	targets   []*html.Node
	state     map[*html.Node]bool
	closed    atomic.Bool
}

type intersectionDelivery struct {
	observer *IntersectionObserver
	entries  []IntersectionEntry
}

// NewIntersectionObserver creates an observer that counts a target as
// intersecting once at least threshold of its area is visible.
func (p *Page) NewIntersectionObserver(cb IntersectionCallback, threshold float64) *IntersectionObserver {
	o := &IntersectionObserver{
		page:      p,
		callback:  cb,
		threshold: threshold,
		state:     make(map[*html.Node]bool),
	}

	p.mu.Lock()
	p.intersectionObservers = append(p.intersectionObservers, o)
	p.mu.Unlock()
	return o
}

// Observe starts watching n. Observing a target twice is a no-op.
// The initial entry is delivered before Observe returns.
func (o *IntersectionObserver) Observe(n *html.Node) {
	p := o.page
	p.mu.Lock()
	if o.closed.Load() {
		p.mu.Unlock()
		return
	}
	if _, ok := o.state[n]; ok {
		p.mu.Unlock()
		return
	}
	entry := p.entryFor(n, o.threshold)
	o.state[n] = entry.IsIntersecting
	o.targets = append(o.targets, n)
	p.mu.Unlock()

	o.callback([]IntersectionEntry{entry}, o)
}

// Unobserve stops watching n. It reports true only for the call that removed it.
func (o *IntersectionObserver) Unobserve(n *html.Node) bool {
	p := o.page
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := o.state[n]; !ok {
		return false
	}
	delete(o.state, n)
	o.targets = slices.DeleteFunc(o.targets, func(t *html.Node) bool { return t == n })
	return true
}

// Disconnect stops watching every target.
func (o *IntersectionObserver) Disconnect() {
	p := o.page
	p.mu.Lock()
	defer p.mu.Unlock()

	o.closed.Store(true)
	o.targets = nil
	clear(o.state)
	p.intersectionObservers = slices.DeleteFunc(p.intersectionObservers, func(x *IntersectionObserver) bool { return x == o })
}

// IntersectionObserverCount returns the number of live intersection observers.
func (p *Page) IntersectionObserverCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.intersectionObservers)
}

// MutationObserverCount returns the number of live mutation observers.
func (p *Page) MutationObserverCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mutationObservers)
}

// entryFor computes the current entry for n. Callers hold p.mu.
func (p *Page) entryFor(n *html.Node, threshold float64) IntersectionEntry {
	r := p.rects[n]
	ratio := r.VisibleRatio(p.viewportRect())
	return IntersectionEntry{
		Target:             n,
		BoundingClientRect: r.Translate(-p.scrollX, -p.scrollY),
		IntersectionRatio:  ratio,
		IsIntersecting:     ratio > 0 && ratio >= threshold,
	}
}

// evaluateIntersections collects entries for targets whose state changed. Callers hold p.mu.
func (p *Page) evaluateIntersections() []intersectionDelivery {
	var out []intersectionDelivery
	for _, o := range p.intersectionObservers {
		var entries []IntersectionEntry
		for _, n := range o.targets {
			entry := p.entryFor(n, o.threshold)
			if entry.IsIntersecting == o.state[n] {
				continue
			}
			o.state[n] = entry.IsIntersecting
			entries = append(entries, entry)
		}
		if len(entries) > 0 {
			out = append(out, intersectionDelivery{observer: o, entries: entries})
		}
	}
	return out
}

func deliverIntersections(ds []intersectionDelivery) {
	for _, d := range ds {
		if d.observer.closed.Load() {
			continue
		}
		d.observer.callback(d.entries, d.observer)
	}
}
