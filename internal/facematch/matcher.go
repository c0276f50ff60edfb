package facematch

import (
	"math"

	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/embedding"
)

// EuclideanDistance computes the Euclidean distance between two descriptors.
// Descriptors of different or zero length are infinitely far apart.
func EuclideanDistance(a, b embedding.Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match compares candidate against reference. It matches when the distance is
// strictly below threshold.
func Match(candidate, reference embedding.Descriptor, threshold float64) Result {
	distance := EuclideanDistance(candidate, reference)
	if distance < threshold {
		return Result{Matched: true, Distance: distance, Label: constants.ReferenceLabel}
	}
	return Result{Distance: distance, Label: constants.UnknownLabel}
}

// Matcher holds the reference identity. It is immutable after construction.
type Matcher struct {
	reference embedding.Descriptor
	label     string
	threshold float64
}

// NewMatcher creates a matcher for reference. An empty label defaults to
// "Target" and a non-positive threshold to constants.MatchThreshold.
func NewMatcher(reference embedding.Descriptor, label string, threshold float64) *Matcher {
	label = NormalizeLabel(label)
	if label == "" {
		label = constants.ReferenceLabel
	}
	if threshold <= 0 {
		threshold = constants.MatchThreshold
	}
	return &Matcher{
		reference: append(embedding.Descriptor(nil), reference...),
		label:     label,
		threshold: threshold,
	}
}

// Label returns the normalized reference label.
func (m *Matcher) Label() string {
	return m.label
}

// Threshold returns the distance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match compares one descriptor with the reference.
func (m *Matcher) Match(candidate embedding.Descriptor) Result {
	r := Match(candidate, m.reference, m.threshold)
	if r.Matched {
		r.Label = m.label
	}
	return r
}

// BestMatch returns the result for the closest descriptor. With no
// descriptors it reports an unmatched result at infinite distance.
func (m *Matcher) BestMatch(descriptors []embedding.Descriptor) Result {
	best := Result{Distance: math.Inf(1), Label: constants.UnknownLabel}
	for _, d := range descriptors {
		if r := m.Match(d); r.Distance < best.Distance {
			best = r
		}
	}
	return best
}

// AnyMatch reports whether any face matches the reference, along with the
// closest result and the index of that face (-1 when faces is empty).
func (m *Matcher) AnyMatch(faces []embedding.Face) (Result, int, bool) {
	best := Result{Distance: math.Inf(1), Label: constants.UnknownLabel}
	idx := -1
	for i, f := range faces {
		if r := m.Match(f.Descriptor); r.Distance < best.Distance {
			best = r
			idx = i
		}
	}
	return best, idx, best.Matched
}
