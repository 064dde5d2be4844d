package segment

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
)

var (
	// ErrExhausted ends a pass. It is a terminal signal, not a failure.
	ErrExhausted     = errors.New("segment: exhausted")
	ErrInvalidBounds = errors.New("segment: invalid measure bounds")
	ErrNilDocument   = errors.New("segment: document required")
)

// Document is the read-only view of a parsed score the segmenter needs.
type Document interface {
	Len() int
	// Slice serializes measures with zero-based index in [start, end).
	Slice(start, end int) ([]byte, error)
}

// IntRange draws an integer uniformly from [lo, hi], both inclusive.
type IntRange interface {
	IntRange(lo, hi int) int
}

// IntRangeFunc adapts a function to IntRange.
type IntRangeFunc func(lo, hi int) int

func (f IntRangeFunc) IntRange(lo, hi int) int { return f(lo, hi) }

type globalRand struct{}

func (globalRand) IntRange(lo, hi int) int {
	return lo + rand.IntN(hi-lo+1) //nolint:gosec // chunk sizing only
}

// Fragment is one serialized measure range. StartMeasure and EndMeasure
// are 1-based and both inclusive.
type Fragment struct {
	Content      []byte
	StartMeasure int
	EndMeasure   int
}

// Measures returns the number of measures carried by the fragment.
func (f Fragment) Measures() int {
	return f.EndMeasure - f.StartMeasure + 1
}

func (f Fragment) String() string {
	return fmt.Sprintf("measures %d-%d", f.StartMeasure, f.EndMeasure)
}

type Option func(*Segmenter)

// WithIntRange replaces the default unseeded generator.
func WithIntRange(r IntRange) Option {
	return func(s *Segmenter) {
		if r != nil {
			s.rng = r
		}
	}
}

// Segmenter yields fragments covering a document exactly once, in order.
type Segmenter struct {
	doc       Document
	min       int
	max       int
	rng       IntRange
	cursor    int
	exhausted bool
}

func ValidateBounds(minMeasures, maxMeasures int) error {
	if minMeasures < 1 {
		return fmt.Errorf("%w: min_measures=%d must be >= 1", ErrInvalidBounds, minMeasures)
	}
	if maxMeasures < minMeasures {
		return fmt.Errorf("%w: max_measures=%d < min_measures=%d", ErrInvalidBounds, maxMeasures, minMeasures)
	}
	return nil
}

func New(doc Document, minMeasures, maxMeasures int, opts ...Option) (*Segmenter, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if err := ValidateBounds(minMeasures, maxMeasures); err != nil {
		return nil, err
	}
	s := &Segmenter{
		doc: doc,
		min: minMeasures,
		max: maxMeasures,
		rng: globalRand{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the fragment after the cursor, or ErrExhausted once the
// whole document has been yielded.
func (s *Segmenter) Next() (Fragment, error) {
	if s.exhausted {
		return Fragment{}, ErrExhausted
	}
	remaining := s.doc.Len() - s.cursor
	if remaining <= 0 {
		s.exhausted = true
		return Fragment{}, ErrExhausted
	}
	take := min(remaining, s.rng.IntRange(s.min, s.max))
	if take <= 0 {
		s.exhausted = true
		return Fragment{}, ErrExhausted
	}

	start := s.cursor
	content, err := s.doc.Slice(start, start+take)
	if err != nil {
		return Fragment{}, fmt.Errorf("segment: slice measures %d-%d: %w", start+1, start+take, err)
	}
	s.cursor += take
	return Fragment{
		Content:      content,
		StartMeasure: start + 1,
		EndMeasure:   start + take,
	}, nil
}

// Cursor is the count of measures already yielded.
func (s *Segmenter) Cursor() int { return s.cursor }

// Total is the document's measure count.
func (s *Segmenter) Total() int { return s.doc.Len() }

func (s *Segmenter) Exhausted() bool { return s.exhausted }
