// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// MatchThreshold is the maximum Euclidean distance between a candidate and
	// the reference descriptor for the candidate to count as the target.
	// Distances equal to the threshold are not a match.
	MatchThreshold = 0.6

	// DescriptorDim is the default length of a face descriptor
	DescriptorDim = 128

	// ReferenceLabel is the label reported for faces matching the reference
	ReferenceLabel = "Target"

	// UnknownLabel is the label reported for faces that match nothing
	UnknownLabel = "unknown"
)

// Visibility constants
const (
	// MinImageSize is the minimum width and height in pixels for an image to be
	// considered a content photo. Anything at or below it is an icon or avatar.
	MinImageSize = 50

	// IntersectionThreshold is the visible fraction at which an image counts as on screen
	IntersectionThreshold = 0.1

	// OverlayClass marks both the hidden original and the overlay that replaces it
	OverlayClass = "overlay-applied"
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) sent to the face service
	MaxImageSize = 1920

	// MaxFetchSize is the maximum image download size in bytes (32MB)
	MaxFetchSize = 32 << 20

	// MaxDecodePixels is the largest width*height decoded (64 megapixels, 256MB as RGBA)
	MaxDecodePixels = 64 << 20

	// ReadyPollInterval is the interval of the readiness polling shim
	ReadyPollInterval = 100 * time.Millisecond

	// HealthPollInterval is the interval between face service health checks
	HealthPollInterval = 500 * time.Millisecond
)
