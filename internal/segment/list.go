package segment

import "errors"

// List is a pre-materialized pass replayed in order.
type List struct {
	items []Fragment
	next  int
}

func NewList(items []Fragment) *List {
	return &List{items: items}
}

func (l *List) Next() (Fragment, error) {
	if l.next >= len(l.items) {
		return Fragment{}, ErrExhausted
	}
	f := l.items[l.next]
	l.next++
	return f, nil
}

func (l *List) Len() int { return len(l.items) }

// All drains s into a slice. The segmenter is exhausted afterwards.
func All(s *Segmenter) ([]Fragment, error) {
	out := make([]Fragment, 0)
	for {
		f, err := s.Next()
		if errors.Is(err, ErrExhausted) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
}
