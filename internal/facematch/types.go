// Package facematch decides whether a face descriptor belongs to the reference identity.
package facematch

// Result is the outcome of comparing one descriptor with the reference.
type Result struct {
	Matched  bool
	Distance float64
	Label    string // reference label when matched, "unknown" otherwise
}
