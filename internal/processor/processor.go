// Package processor decides, one image at a time, whether the reference
// identity appears in a page image and covers the image when it does.
package processor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/face-occluder/internal/assets"
	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/embedding"
	"github.com/kozaktomas/face-occluder/internal/facematch"
	"github.com/kozaktomas/face-occluder/internal/logging"
	"github.com/kozaktomas/face-occluder/internal/overlay"
	"github.com/kozaktomas/face-occluder/internal/page"
)

// Outcome is the result of processing one image.
type Outcome int

const (
	// Skipped means the image was too small to be a content photo.
	Skipped Outcome = iota
	// Handled means the image already carries an overlay.
	Handled
	// NoFace means no face was found.
	NoFace
	// NoMatch means faces were found but none is the reference identity.
	NoMatch
	// Matched means the image was covered.
	Matched
	// Failed means fetching, decoding or detection failed; treated as no match.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Handled:
		return "handled"
	case NoFace:
		return "no_face"
	case NoMatch:
		return "no_match"
	case Matched:
		return "matched"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options tune a Processor.
type Options struct {
	MinImageSize int   // images at or below this on either side are skipped
	MaxImageSize int   // longest side sent to the provider
	MaxInFlight  int64 // concurrent provider calls, 0 for no limit
}

// Processor runs the per-image pipeline. It is safe for concurrent use; every
// call works on its own image and touches only that image and its overlay.
type Processor struct {
	page     *page.Page
	fetcher  assets.Fetcher
	provider embedding.Provider
	matcher  *facematch.Matcher
	overlays *overlay.Pool
	logger   *logging.Logger
	opts     Options
	sem      *semaphore.Weighted
}

// New creates a Processor.
func New(pg *page.Page, fetcher assets.Fetcher, provider embedding.Provider, matcher *facematch.Matcher, overlays *overlay.Pool, logger *logging.Logger, opts Options) *Processor {
	if opts.MinImageSize <= 0 {
		opts.MinImageSize = constants.MinImageSize
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = constants.MaxImageSize
	}
	if logger == nil {
		logger = logging.Nop()
	}

	p := &Processor{
		page:     pg,
		fetcher:  fetcher,
		provider: provider,
		matcher:  matcher,
		overlays: overlays,
		logger:   logger.WithComponent("processor"),
		opts:     opts,
	}
	if opts.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(opts.MaxInFlight)
	}
	return p
}

// TooSmall reports whether img is at or below the minimum size on either side.
// The natural size is used when known, otherwise the rendered box.
func (p *Processor) TooSmall(img *html.Node) bool {
	w, h := 0.0, 0.0
	if n := p.page.NaturalSize(img); n.W > 0 && n.H > 0 {
		w, h = float64(n.W), float64(n.H)
	} else {
		r := p.page.Rect(img)
		w, h = r.W, r.H
	}
	limit := float64(p.opts.MinImageSize)
	return w <= limit || h <= limit
}

// Process runs the pipeline for one image. Failures are logged and reported
// as Failed; they never propagate.
func (p *Processor) Process(ctx context.Context, img *html.Node) Outcome {
	if p.page.HasClass(img, constants.OverlayClass) {
		return Handled
	}
	if p.TooSmall(img) {
		return Skipped
	}

	raw := strings.TrimSpace(p.page.GetAttr(img, "src"))
	if raw == "" {
		p.logger.Warn("image has no source")
		return Failed
	}
	src, err := p.page.ResolveURL(raw)
	if err != nil {
		p.logger.Warn("image has no usable source", "error", err)
		return Failed
	}

	log := p.logger.WithImage(src)
	log.Debug("processing image")

	faces, prepared, err := p.detect(ctx, src)
	if err != nil {
		log.Warn("face detection failed", "error", err)
		return Failed
	}
	if len(faces) == 0 {
		log.Debug("no faces found")
		return NoFace
	}

	result, idx, ok := p.matcher.AnyMatch(faces)
	log.Debug("best match", "label", result.Label, "distance", result.Distance, "faces", len(faces))
	if !ok {
		return NoMatch
	}

	substitute := p.overlays.Pick()
	if _, applied := overlay.Apply(p.page, img, substitute); !applied {
		return Handled
	}

	log.Info("target detected",
		"label", result.Label,
		"distance", result.Distance,
		"box", facematch.RelativeBox(faces[idx].BBox, prepared.Width, prepared.Height),
		"overlay", substitute,
	)
	return Matched
}

// detect fetches src, prepares it and asks the provider for every face.
func (p *Processor) detect(ctx context.Context, src string) ([]embedding.Face, *embedding.Prepared, error) {
	data, err := p.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: %w", err)
	}

	prepared, err := embedding.Prepare(data, p.opts.MaxImageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("decode: %w", err)
	}
	p.logger.Debug("image prepared", "src", src, "format", prepared.Format, "width", prepared.Width, "height", prepared.Height)

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, nil, fmt.Errorf("waiting for provider slot: %w", err)
		}
		defer p.sem.Release(1)
	}

	faces, err := p.provider.DetectAll(ctx, prepared.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("detect: %w", err)
	}
	return faces, prepared, nil
}
