// Package cycle repeats whole-document passes: segment from measure 1,
// deliver, repeat per Mode.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/flowscore/internal/delivery"
	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/segment"
	"github.com/google/uuid"
)

var (
	ErrInvalidMode   = errors.New("cycle: invalid run mode")
	ErrInvalidCycles = errors.New("cycle: invalid cycle count")
)

// Mode controls how many passes Run performs.
type Mode string

const (
	ModeOnce    Mode = "once"
	ModeForever Mode = "forever"
	ModeCount   Mode = "count"
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeOnce, ModeForever, ModeCount:
		return m, nil
	case "":
		return ModeForever, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// Config selects pass count and segment sizing.
type Config struct {
	Mode        Mode
	Cycles      int
	MinMeasures int
	MaxMeasures int
	// Precompute materializes a pass before its first send.
	Precompute bool
}

func DefaultConfig() Config {
	return Config{
		Mode:        ModeForever,
		MinMeasures: 4,
		MaxMeasures: 20,
		Precompute:  true,
	}
}

func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode == ModeCount && c.Cycles < 1 {
		return fmt.Errorf("%w: cycles=%d with mode=count", ErrInvalidCycles, c.Cycles)
	}
	return segment.ValidateBounds(c.MinMeasures, c.MaxMeasures)
}

// Deliverer runs one pass. *delivery.Loop satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, target string, src delivery.Source) (delivery.Report, error)
}

type Recorder interface {
	CycleCompleted(report delivery.Report)
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(delivery.Report) {}

// Summary totals every completed pass of one Run.
type Summary struct {
	Cycles    int
	Fragments int
	Retries   int
	Bytes     int
}

type Option func(*Driver)

func WithTracker(t *delivery.Tracker) Option {
	return func(d *Driver) { d.tracker = t }
}

func WithRecorder(r Recorder) Option {
	return func(d *Driver) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithSegmentOptions forwards options to every pass's Segmenter.
func WithSegmentOptions(opts ...segment.Option) Option {
	return func(d *Driver) { d.segOpts = append(d.segOpts, opts...) }
}

func WithIDGenerator(fn func() string) Option {
	return func(d *Driver) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// Driver owns the outer pass loop. It is not safe for concurrent Run calls.
type Driver struct {
	doc      segment.Document
	target   string
	loop     Deliverer
	cfg      Config
	tracker  *delivery.Tracker
	recorder Recorder
	segOpts  []segment.Option
	newID    func() string
}

func NewDriver(doc segment.Document, target string, loop Deliverer, cfg Config, opts ...Option) (*Driver, error) {
	if doc == nil {
		return nil, segment.ErrNilDocument
	}
	if loop == nil {
		return nil, errors.New("cycle: deliverer required")
	}
	if strings.TrimSpace(string(cfg.Mode)) == "" {
		cfg.Mode = ModeForever
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		doc:      doc,
		target:   target,
		loop:     loop,
		cfg:      cfg,
		recorder: nopRecorder{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run performs passes until the mode's count is reached, ctx ends, or a
// pass fails. Each pass restarts at measure 1 with a fresh partition.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for n := 1; d.more(n); n++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		id := d.newID()
		report, err := d.runPass(ctx, id, n)
		sum.Fragments += report.Fragments
		sum.Retries += report.Retries
		sum.Bytes += report.Bytes
		if err != nil {
			return sum, fmt.Errorf("cycle %d (%s): %w", n, id, err)
		}
		sum.Cycles++
		d.recorder.CycleCompleted(report)
		logging.Infof(
			"cycle.Driver.Run pass complete cycle=%d id=%s fragments=%d retries=%d bytes=%d",
			n, id, report.Fragments, report.Retries, report.Bytes,
		)
		if report.Fragments == 0 && d.cfg.Mode == ModeForever {
			logging.Warnf("cycle.Driver.Run empty pass, stopping cycle=%d id=%s", n, id)
			return sum, nil
		}
	}
	return sum, nil
}

func (d *Driver) more(n int) bool {
	switch d.cfg.Mode {
	case ModeOnce:
		return n <= 1
	case ModeCount:
		return n <= d.cfg.Cycles
	default:
		return true
	}
}

func (d *Driver) runPass(ctx context.Context, id string, n int) (delivery.Report, error) {
	if d.tracker != nil {
		d.tracker.StartPass(id, n, d.doc.Len())
	}
	seg, err := segment.New(d.doc, d.cfg.MinMeasures, d.cfg.MaxMeasures, d.segOpts...)
	if err != nil {
		return delivery.Report{}, err
	}
	var src delivery.Source = seg
	if d.cfg.Precompute {
		items, err := segment.All(seg)
		if err != nil {
			return delivery.Report{}, err
		}
		logging.Debugf("cycle.Driver.runPass precomputed cycle=%d id=%s fragments=%d", n, id, len(items))
		src = segment.NewList(items)
	}
	return d.loop.Deliver(ctx, d.target, src)
}
