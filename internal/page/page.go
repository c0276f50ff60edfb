// Package page models the document the occluder works on: an HTML tree with
// a layout table, a scrollable viewport, and the mutation and intersection
// observers a feed page exposes to content scripts.
//
// Observer callbacks run on the goroutine that caused the change, after the
// page lock has been released, so callbacks may freely call back into the page.
package page

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoBody is returned when a parsed document has no body element.
var ErrNoBody = errors.New("document has no body")

// ErrLocalSource is returned by ResolveURL for file URLs in a page that was not loaded from a file.
var ErrLocalSource = errors.New("local file source in a remote page")

// Page is a parsed document plus its layout and observers.
type Page struct {
	mu sync.Mutex

	root    *html.Node
	body    *html.Node
	baseURL *url.URL
	local   bool // loaded from a file, so file sources are allowed

	rects   map[*html.Node]Rect
	natural map[*html.Node]Size
	height  float64

	scrollX, scrollY float64
	viewport         Size

	mutationObservers     []*MutationObserver
	intersectionObservers []*IntersectionObserver
}

// Parse reads an HTML document and lays out its images.
// baseURL is used to resolve relative image sources and may be empty.
func Parse(r io.Reader, baseURL string) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	body := findBody(root)
	if body == nil {
		return nil, ErrNoBody
	}

	p := &Page{
		root:     root,
		body:     body,
		rects:    make(map[*html.Node]Rect),
		natural:  make(map[*html.Node]Size),
		viewport: Size{W: 1280, H: 800},
	}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
		}
		p.baseURL = u
		p.local = u.Scheme == "file"
	}

	// <base href> overrides the document location for relative sources.
	if el, _ := p.QuerySelector("base[href]"); el != nil {
		if ref, err := url.Parse(strings.TrimSpace(Attr(el, "href"))); err == nil {
			if p.baseURL != nil {
				ref = p.baseURL.ResolveReference(ref)
			}
			p.baseURL = ref
		}
	}

	p.layoutSubtree(root)
	return p, nil
}

// ParseString is Parse for an in-memory document.
func ParseString(doc, baseURL string) (*Page, error) {
	return Parse(strings.NewReader(doc), baseURL)
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// Body returns the body element.
func (p *Page) Body() *html.Node {
	return p.body
}

// Render writes the current document as HTML.
func (p *Page) Render(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return html.Render(w, p.root)
}

// QuerySelectorAll returns every element matching a CSS selector in document order.
func (p *Page) QuerySelectorAll(selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return sel.MatchAll(p.root), nil
}

// QuerySelector returns the first element matching selector, or nil.
func (p *Page) QuerySelector(selector string) (*html.Node, error) {
	nodes, err := p.QuerySelectorAll(selector)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// NewElement creates a detached element.
func NewElement(tag string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
}

// IsImage reports whether n is an <img> element.
func IsImage(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Img
}

// Images returns n itself when it is an image, followed by every image below it.
func Images(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if IsImage(c) {
			out = append(out, c)
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	return out
}

// AppendChild inserts child as the last child of parent, lays it out below the
// current content and notifies mutation observers.
func (p *Page) AppendChild(parent, child *html.Node) {
	p.mu.Lock()
	parent.AppendChild(child)
	p.layoutSubtree(child)
	pending := p.mutationsFor(parent, []*html.Node{child})
	deliveries := p.evaluateIntersections()
	p.mu.Unlock()

	deliverMutations(pending)
	deliverIntersections(deliveries)
}

// AppendHTML parses fragment in the context of parent and appends the result.
// All inserted nodes are reported in a single mutation record.
func (p *Page) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}

	p.mu.Lock()
	for _, n := range nodes {
		parent.AppendChild(n)
		p.layoutSubtree(n)
	}
	pending := p.mutationsFor(parent, nodes)
	deliveries := p.evaluateIntersections()
	p.mu.Unlock()

	deliverMutations(pending)
	deliverIntersections(deliveries)
	return nodes, nil
}

// ResolveURL resolves ref against the page base URL. File URLs are only
// returned for pages that were themselves loaded from a file.
func (p *Page) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid image source %q: %w", ref, err)
	}
	if p.baseURL != nil {
		u = p.baseURL.ResolveReference(u)
	}
	if u.Scheme == "file" && !p.local {
		return "", fmt.Errorf("%w: %s", ErrLocalSource, u)
	}
	return u.String(), nil
}

// Attr returns the value of an attribute, or "" when missing.
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// setAttr sets an attribute in place. Callers hold p.mu for attached nodes.
func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// SetAttr sets an attribute on n.
func (p *Page) SetAttr(n *html.Node, key, val string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	setAttr(n, key, val)
}

// GetAttr reads an attribute of n under the page lock.
func (p *Page) GetAttr(n *html.Node, key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Attr(n, key)
}

// HasClass reports whether n carries class.
func (p *Page) HasClass(n *html.Node, class string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return hasClass(n, class)
}

// AddClass adds class to n if missing.
func (p *Page) AddClass(n *html.Node, class string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addClass(n, class)
}

// MarkOnce adds class to n and reports true, or reports false when n already had it.
func (p *Page) MarkOnce(n *html.Node, class string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hasClass(n, class) {
		return false
	}
	addClass(n, class)
	return true
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(Attr(n, "class")), class)
}

func addClass(n *html.Node, class string) {
	classes := strings.Fields(Attr(n, "class"))
	if slices.Contains(classes, class) {
		return
	}
	setAttr(n, "class", strings.Join(append(classes, class), " "))
}
