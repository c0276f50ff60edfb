// Package tracker watches page images and hands each one to the processor the
// first time it becomes visible.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/net/html"

	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/logging"
	"github.com/kozaktomas/face-occluder/internal/page"
	"github.com/kozaktomas/face-occluder/internal/processor"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("tracker already started")

// Dispatcher processes one image. *processor.Processor implements it.
type Dispatcher interface {
	Process(ctx context.Context, img *html.Node) processor.Outcome
}

type imageState int

const (
	stateQueued imageState = iota + 1
	stateDispatched
)

// Stats summarizes what the tracker has seen.
type Stats struct {
	Registered int
	Dispatched int
	Completed  int
	Outcomes   map[processor.Outcome]int
}

// Tracker registers images from an initial selector scan and from later
// insertions, and dispatches each one at most once.
type Tracker struct {
	page      *page.Page
	proc      Dispatcher
	selector  string
	threshold float64
	logger    *logging.Logger

	ctx          context.Context
	intersection *page.IntersectionObserver
	mutation     *page.MutationObserver
	wg           sync.WaitGroup

	mu       sync.Mutex
	state    map[*html.Node]imageState
	started  bool
	stopped  bool
	outcomes map[processor.Outcome]int
	complete int
}

// New creates a Tracker. A non-positive threshold uses constants.IntersectionThreshold.
func New(pg *page.Page, proc Dispatcher, selector string, threshold float64, logger *logging.Logger) *Tracker {
	if threshold <= 0 {
		threshold = constants.IntersectionThreshold
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{
		page:      pg,
		proc:      proc,
		selector:  selector,
		threshold: threshold,
		logger:    logger.WithComponent("tracker"),
		state:     make(map[*html.Node]imageState),
		outcomes:  make(map[processor.Outcome]int),
	}
}

// Start scans the page with the selector, then watches body for inserted
// images. Tasks dispatched later run with ctx.
func (t *Tracker) Start(ctx context.Context) error {
	initial, err := t.page.QuerySelectorAll(t.selector)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.ctx = ctx
	t.mu.Unlock()

	t.intersection = t.page.NewIntersectionObserver(t.onIntersect, t.threshold)
	t.mutation = t.page.NewMutationObserver(t.onMutation)

	t.logger.Debug("initial scan", "selector", t.selector, "matches", len(initial))
	for _, n := range initial {
		t.register(n)
	}

	t.mutation.Observe(t.page.Body(), true)
	return nil
}

// Stop disconnects both observers. Tasks already dispatched keep running.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	t.mutation.Disconnect()
	t.intersection.Disconnect()
}

// Wait blocks until every dispatched task has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Registered: len(t.state),
		Completed:  t.complete,
		Outcomes:   make(map[processor.Outcome]int, len(t.outcomes)),
	}
	for _, st := range t.state {
		if st == stateDispatched {
			s.Dispatched++
		}
	}
	for o, n := range t.outcomes {
		s.Outcomes[o] = n
	}
	return s
}

// register starts observing n unless it was registered before or is an overlay.
func (t *Tracker) register(n *html.Node) {
	if t.page.HasClass(n, constants.OverlayClass) {
		return
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if _, seen := t.state[n]; seen {
		t.mu.Unlock()
		return
	}
	t.state[n] = stateQueued
	t.mu.Unlock()

	t.intersection.Observe(n)
}

func (t *Tracker) onMutation(records []page.MutationRecord, _ *page.MutationObserver) {
	for _, r := range records {
		for _, added := range r.AddedNodes {
			for _, img := range page.Images(added) {
				t.register(img)
			}
		}
	}
}

func (t *Tracker) onIntersect(entries []page.IntersectionEntry, o *page.IntersectionObserver) {
	for _, e := range entries {
		if !e.IsIntersecting {
			continue
		}
		// Only the caller that actually removed the target may dispatch it.
		if !o.Unobserve(e.Target) {
			continue
		}
		t.dispatch(e.Target)
	}
}

func (t *Tracker) dispatch(img *html.Node) {
	t.mu.Lock()
	if t.stopped || t.state[img] != stateQueued {
		t.mu.Unlock()
		return
	}
	t.state[img] = stateDispatched
	t.wg.Add(1)
	ctx := t.ctx
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		outcome := t.process(ctx, img)

		t.mu.Lock()
		t.outcomes[outcome]++
		t.complete++
		t.mu.Unlock()
	}()
}

// process runs one task. A panic is contained to its image and counted as Failed.
func (t *Tracker) process(ctx context.Context, img *html.Node) (outcome processor.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("image task panicked", "src", t.page.GetAttr(img, "src"), "panic", r)
			outcome = processor.Failed
		}
	}()
	return t.proc.Process(ctx, img)
}
