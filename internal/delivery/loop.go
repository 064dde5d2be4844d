package delivery

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"
	"time"

	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/segment"
	"github.com/danmuck/flowscore/internal/transport"
)

// Source yields fragments in order and ErrExhausted at pass end.
// *segment.Segmenter and *segment.List both satisfy it.
type Source interface {
	Next() (segment.Fragment, error)
}

// Recorder receives delivery observations.
type Recorder interface {
	FragmentDelivered(measures, bytes int, elapsed time.Duration)
	DeliveryRetry(reason string)
}

type nopRecorder struct{}

func (nopRecorder) FragmentDelivered(int, int, time.Duration) {}
func (nopRecorder) DeliveryRetry(string)                      {}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Report summarizes one Deliver call.
type Report struct {
	Fragments int
	Measures  int
	Bytes     int
	Attempts  int
	Retries   int
}

type Option func(*Loop)

func WithRecorder(r Recorder) Option {
	return func(l *Loop) {
		if r != nil {
			l.recorder = r
		}
	}
}

func WithTracker(t *Tracker) Option {
	return func(l *Loop) {
		if t != nil {
			l.tracker = t
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(l *Loop) {
		if fn != nil {
			l.sleep = fn
		}
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(l *Loop) {
		if rng != nil {
			l.rng = rng
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// Loop delivers fragments over fresh connections from dialer.
type Loop struct {
	dialer   transport.Dialer
	cfg      Config
	recorder Recorder
	tracker  *Tracker
	sleep    SleepFunc
	rng      *rand.Rand
	now      func() time.Time
}

func NewLoop(dialer transport.Dialer, cfg Config, opts ...Option) (*Loop, error) {
	if dialer == nil {
		return nil, errors.New("delivery: dialer required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		dialer:   dialer,
		cfg:      cfg,
		recorder: nopRecorder{},
		tracker:  NewTracker(),
		sleep:    sleepContext,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) Tracker() *Tracker {
	return l.tracker
}

// Deliver sends every fragment from src to target, in order, and returns
// once src is exhausted. Transient transport failures retry the same
// fragment; any other failure is returned with the fragment's range.
func (l *Loop) Deliver(ctx context.Context, target string, src Source) (Report, error) {
	var report Report
	if strings.TrimSpace(target) == "" {
		return report, ErrTargetRequired
	}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		f, err := src.Next()
		if errors.Is(err, segment.ErrExhausted) {
			return report, nil
		}
		if err != nil {
			return report, err
		}
		if err := l.deliverFragment(ctx, target, f, &report); err != nil {
			return report, err
		}
		if err := l.sleep(ctx, l.interFragmentDelay()); err != nil {
			return report, err
		}
	}
}

func (l *Loop) deliverFragment(ctx context.Context, target string, f segment.Fragment, report *Report) error {
	l.tracker.Begin(f, l.now())
	attempt := 0
	for {
		attempt++
		report.Attempts++
		l.tracker.MarkAttempt(l.now())

		start := l.now()
		err := l.sendOnce(ctx, target, f)
		if err == nil {
			elapsed := l.now().Sub(start)
			l.tracker.Complete(l.now())
			l.recorder.FragmentDelivered(f.Measures(), len(f.Content), elapsed)
			report.Fragments++
			report.Measures += f.Measures()
			report.Bytes += len(f.Content)
			logging.Infof("delivery.Loop.deliver sent %s bytes=%d attempt=%d", f, len(f.Content), attempt)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !transport.Retryable(err) {
			return fmt.Errorf("delivery: %s: %w", f, err)
		}

		reason := transport.Reason(err)
		report.Retries++
		l.tracker.MarkFailure(err.Error())
		l.recorder.DeliveryRetry(reason)
		logging.Warnf("delivery.Loop.deliver %s reason=%s attempt=%d err=%v", f, reason, attempt, err)

		if l.cfg.MaxAttempts > 0 && attempt >= l.cfg.MaxAttempts {
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, f, attempt, err)
		}
		if err := l.sleep(ctx, l.cfg.Backoff.Delay(attempt, l.rng)); err != nil {
			return err
		}
	}
}

func (l *Loop) sendOnce(ctx context.Context, target string, f segment.Fragment) error {
	conn, err := l.dialer.Dial(ctx, target)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, f.Content); err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.Close(); err != nil {
		if transport.Retryable(err) {
			return err
		}
		logging.Debugf("delivery.Loop.sendOnce close after send %s err=%v", f, err)
	}
	return nil
}

func (l *Loop) interFragmentDelay() time.Duration {
	span := l.cfg.MaxDelay - l.cfg.MinDelay
	if span <= 0 {
		return l.cfg.MinDelay
	}
	return l.cfg.MinDelay + time.Duration(l.rng.Int64N(int64(span)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
