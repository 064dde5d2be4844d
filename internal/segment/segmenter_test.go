package segment

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"
	"testing"

	"github.com/danmuck/flowscore/internal/score"
	"github.com/danmuck/flowscore/internal/testutil/meifixture"
	"github.com/danmuck/flowscore/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type countDoc struct {
	n      int
	slices [][2]int
}

func (d *countDoc) Len() int { return d.n }

func (d *countDoc) Slice(start, end int) ([]byte, error) {
	d.slices = append(d.slices, [2]int{start, end})
	return []byte(fmt.Sprintf("%d:%d", start, end)), nil
}

func fixed(values ...int) IntRange {
	i := 0
	return IntRangeFunc(func(lo, hi int) int {
		v := values[i%len(values)]
		i++
		return v
	})
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	testlog.Start(t)
	doc := &countDoc{n: 5}
	for _, b := range [][2]int{{0, 3}, {-1, 2}, {4, 3}} {
		_, err := New(doc, b[0], b[1])
		require.ErrorIs(t, err, ErrInvalidBounds, "bounds %v", b)
	}
	_, err := New(nil, 1, 2)
	require.ErrorIs(t, err, ErrNilDocument)
}

func TestEmptyDocumentExhaustsImmediately(t *testing.T) {
	testlog.Start(t)
	s, err := New(&countDoc{n: 0}, 1, 3)
	require.NoError(t, err)
	_, err = s.Next()
	require.ErrorIs(t, err, ErrExhausted)
	require.True(t, s.Exhausted())

	all, err := All(s)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestShortDocumentYieldsSingleFragment(t *testing.T) {
	testlog.Start(t)
	doc := &countDoc{n: 3}
	s, err := New(doc, 4, 6)
	require.NoError(t, err)

	f, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, 1, f.StartMeasure)
	require.Equal(t, 3, f.EndMeasure)
	require.Equal(t, 3, f.Measures())
	require.Equal(t, [][2]int{{0, 3}}, doc.slices)

	_, err = s.Next()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestTenMeasuresDeterministic(t *testing.T) {
	testlog.Start(t)
	s, err := New(&countDoc{n: 10}, 4, 6, WithIntRange(fixed(6, 6)))
	require.NoError(t, err)
	all, err := All(s)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 1, all[0].StartMeasure)
	require.Equal(t, 6, all[0].EndMeasure)
	require.Equal(t, 7, all[1].StartMeasure)
	require.Equal(t, 10, all[1].EndMeasure)
	require.Equal(t, "6:10", string(all[1].Content))
}

func TestTenMeasuresRandomPartition(t *testing.T) {
	testlog.Start(t)
	for i := 0; i < 200; i++ {
		s, err := New(&countDoc{n: 10}, 4, 6)
		require.NoError(t, err)
		all, err := All(s)
		require.NoError(t, err)
		assertPartition(t, all, 10, 4, 6)
	}
}

func TestPartitionBoundsAndTermination(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewPCG(11, 29))
	gen := IntRangeFunc(func(lo, hi int) int { return lo + rng.IntN(hi-lo+1) })

	for n := 0; n <= 60; n++ {
		for lo := 1; lo <= 7; lo++ {
			for hi := lo; hi <= lo+5; hi++ {
				s, err := New(&countDoc{n: n}, lo, hi, WithIntRange(gen))
				require.NoError(t, err)
				all, err := All(s)
				require.NoError(t, err)
				assertPartition(t, all, n, lo, hi)

				require.LessOrEqual(t, len(all), ceilDiv(n, lo), "n=%d lo=%d hi=%d", n, lo, hi)
				require.GreaterOrEqual(t, len(all), ceilDiv(n, hi), "n=%d lo=%d hi=%d", n, lo, hi)
				require.Equal(t, n, s.Cursor())
			}
		}
	}
}

func TestNonPositiveDrawExhausts(t *testing.T) {
	testlog.Start(t)
	s, err := New(&countDoc{n: 5}, 1, 2, WithIntRange(fixed(0)))
	require.NoError(t, err)
	_, err = s.Next()
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 0, s.Cursor())
}

func TestSliceErrorDoesNotAdvance(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	doc := failingDoc{n: 4, err: boom}
	s, err := New(doc, 2, 2)
	require.NoError(t, err)
	_, err = s.Next()
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, s.Cursor())
	require.False(t, s.Exhausted())
}

func TestSegmentsRealScore(t *testing.T) {
	testlog.Start(t)
	doc, err := score.Parse(meifixture.Score(12))
	require.NoError(t, err)
	s, err := New(doc, 2, 5)
	require.NoError(t, err)
	all, err := All(s)
	require.NoError(t, err)
	assertPartition(t, all, 12, 2, 5)

	for _, f := range all {
		for i := 1; i <= 12; i++ {
			in := i >= f.StartMeasure && i <= f.EndMeasure
			require.Equal(t, in, strings.Contains(string(f.Content), meifixture.MeasureMarker(i)),
				"fragment %s measure %d", f, i)
		}
	}
}

func TestListReplaysInOrder(t *testing.T) {
	testlog.Start(t)
	l := NewList([]Fragment{{StartMeasure: 1, EndMeasure: 2}, {StartMeasure: 3, EndMeasure: 3}})
	require.Equal(t, 2, l.Len())
	f, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, 1, f.StartMeasure)
	f, err = l.Next()
	require.NoError(t, err)
	require.Equal(t, 3, f.StartMeasure)
	_, err = l.Next()
	require.ErrorIs(t, err, ErrExhausted)
}

type failingDoc struct {
	n   int
	err error
}

func (d failingDoc) Len() int                       { return d.n }
func (d failingDoc) Slice(int, int) ([]byte, error) { return nil, d.err }

func assertPartition(t *testing.T, frags []Fragment, n, lo, hi int) {
	t.Helper()
	next := 1
	for i, f := range frags {
		require.Equal(t, next, f.StartMeasure, "fragment %d start", i)
		require.GreaterOrEqual(t, f.EndMeasure, f.StartMeasure, "fragment %d range", i)
		count := f.Measures()
		require.LessOrEqual(t, count, hi, "fragment %d count", i)
		if i < len(frags)-1 {
			require.GreaterOrEqual(t, count, lo, "fragment %d count", i)
		} else {
			require.GreaterOrEqual(t, count, 1, "last fragment count")
		}
		next = f.EndMeasure + 1
	}
	require.Equal(t, n+1, next, "partition must end at measure %d", n)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
