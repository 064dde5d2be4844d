package score

import (
	"errors"
	"fmt"
	"os"

	"github.com/beevik/etree"
)

// MeasureTag is the MEI local element name treated as one structural unit.
const MeasureTag = "measure"

var (
	ErrParse = errors.New("score: parse failed")
	ErrEmpty = errors.New("score: document has no root element")
	ErrRange = errors.New("score: measure range out of bounds")
)

// Document is a parsed score with a stable measure order.
type Document struct {
	tree     *etree.Document
	measures int
}

// Load reads and parses the score at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("score: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return doc, nil
}

func Parse(data []byte) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if tree.Root() == nil {
		return nil, ErrEmpty
	}
	return &Document{
		tree:     tree,
		measures: len(collectMeasures(tree.Root())),
	}, nil
}

// Len returns the number of measures in document order.
func (d *Document) Len() int {
	return d.measures
}

// Bytes serializes the whole document.
func (d *Document) Bytes() ([]byte, error) {
	return d.tree.WriteToBytes()
}

// Slice serializes a copy keeping only measures with zero-based index in [start, end).
func (d *Document) Slice(start, end int) ([]byte, error) {
	if start < 0 || end > d.measures || start > end {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrRange, start, end, d.measures)
	}
	cp := d.tree.Copy()
	for i, m := range collectMeasures(cp.Root()) {
		if i >= start && i < end {
			continue
		}
		if parent := m.Parent(); parent != nil {
			parent.RemoveChild(m)
		}
	}
	return cp.WriteToBytes()
}

// collectMeasures walks root in document order, matching on local name so
// prefixed and default-namespace MEI files behave the same.
func collectMeasures(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if e.Tag == MeasureTag {
			out = append(out, e)
		}
		for _, c := range e.ChildElements() {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}
