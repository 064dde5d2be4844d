// Package segment partitions a score into randomly sized, contiguous
// measure ranges.
//
// Ownership boundary:
// - cursor state for one pass
// - range sizing within [min, max]
//
// A Segmenter moves Ready -> Exhausted exactly once. A new pass needs a
// new Segmenter; there is no rewind.
package segment
