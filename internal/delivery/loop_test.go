package delivery

import (
	"context"
	"errors"
	rand "math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/flowscore/internal/score"
	"github.com/danmuck/flowscore/internal/segment"
	"github.com/danmuck/flowscore/internal/testutil/meifixture"
	"github.com/danmuck/flowscore/internal/testutil/testlog"
	"github.com/danmuck/flowscore/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const target = "ws://broker.test:8765/ws?type=provider"

type step struct {
	dialErr  error
	sendErr  error
	closeErr error
}

type fakeDialer struct {
	steps   []step
	dials   int
	targets []string
	sent    []string
	closes  int
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	s := step{}
	if d.dials < len(d.steps) {
		s = d.steps[d.dials]
	}
	d.dials++
	d.targets = append(d.targets, url)
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	return &fakeConn{d: d, sendErr: s.sendErr, closeErr: s.closeErr}, nil
}

type fakeConn struct {
	d        *fakeDialer
	sendErr  error
	closeErr error
}

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.d.sent = append(c.d.sent, string(payload))
	return nil
}

func (c *fakeConn) Close() error {
	c.d.closes++
	return c.closeErr
}

type sleepLog struct {
	durations []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	return ctx.Err()
}

type countingRecorder struct {
	delivered int
	reasons   []string
}

func (r *countingRecorder) FragmentDelivered(int, int, time.Duration) { r.delivered++ }
func (r *countingRecorder) DeliveryRetry(reason string)               { r.reasons = append(r.reasons, reason) }

func refused() error {
	return &transport.Error{Op: "dial", Kind: transport.ErrRefused, Err: errors.New("connect: connection refused")}
}

func closed() error {
	return &transport.Error{Op: "send", Kind: transport.ErrClosed, Err: errors.New("broken pipe")}
}

func frags(ranges ...[2]int) *segment.List {
	out := make([]segment.Fragment, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, segment.Fragment{
			Content:      []byte(strings.Repeat("x", r[1]-r[0]+1)),
			StartMeasure: r[0],
			EndMeasure:   r[1],
		})
	}
	return segment.NewList(out)
}

func newTestLoop(t *testing.T, d transport.Dialer, cfg Config, opts ...Option) (*Loop, *sleepLog) {
	t.Helper()
	sl := &sleepLog{}
	opts = append([]Option{WithSleep(sl.sleep), WithRand(rand.New(rand.NewPCG(3, 0)))}, opts...)
	l, err := NewLoop(d, cfg, opts...)
	require.NoError(t, err)
	return l, sl
}

func TestDeliverSendsEachFragmentOnFreshConnection(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	rec := &countingRecorder{}
	l, sl := newTestLoop(t, d, DefaultConfig(), WithRecorder(rec))

	report, err := l.Deliver(context.Background(), target, frags([2]int{1, 3}, [2]int{4, 5}, [2]int{6, 10}))
	require.NoError(t, err)
	require.Equal(t, []string{"xxx", "xx", "xxxxx"}, d.sent)
	require.Equal(t, 3, d.dials)
	require.Equal(t, 3, d.closes)
	require.Equal(t, []string{target, target, target}, d.targets)
	require.Equal(t, Report{Fragments: 3, Measures: 10, Bytes: 10, Attempts: 3}, report)
	require.Equal(t, 3, rec.delivered)

	require.Len(t, sl.durations, 3)
	for _, got := range sl.durations {
		require.GreaterOrEqual(t, got, 500*time.Millisecond)
		require.LessOrEqual(t, got, 2*time.Second)
	}
}

func TestDeliverRetriesSameFragmentUntilSent(t *testing.T) {
	testlog.Start(t)
	for k := 1; k <= 5; k++ {
		steps := []step{{}}
		for i := 0; i < k; i++ {
			if i%2 == 0 {
				steps = append(steps, step{dialErr: refused()})
			} else {
				steps = append(steps, step{sendErr: closed()})
			}
		}
		d := &fakeDialer{steps: steps}
		rec := &countingRecorder{}
		l, sl := newTestLoop(t, d, DefaultConfig(), WithRecorder(rec))

		report, err := l.Deliver(context.Background(), target, frags([2]int{1, 1}, [2]int{2, 3}, [2]int{4, 6}))
		require.NoError(t, err, "k=%d", k)
		require.Equal(t, []string{"x", "xx", "xxx"}, d.sent, "k=%d", k)
		require.Equal(t, 3, report.Fragments)
		require.Equal(t, k, report.Retries)
		require.Equal(t, 3+k, report.Attempts)
		require.Len(t, rec.reasons, k)

		backoffs := 0
		for _, got := range sl.durations {
			if got == 500*time.Millisecond {
				backoffs++
			}
		}
		require.GreaterOrEqual(t, backoffs, k, "k=%d", k)
		require.Len(t, sl.durations, 3+k)

		st := l.Tracker().Snapshot()
		require.Equal(t, 3, st.Delivered)
		require.Equal(t, k, st.Retries)
		require.Equal(t, 6, st.LastEndMeasure)
		require.Nil(t, st.InFlight)
	}
}

func TestDeliverFatalErrorIsNotRetried(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("protocol violation")
	d := &fakeDialer{steps: []step{{}, {sendErr: boom}}}
	l, sl := newTestLoop(t, d, DefaultConfig())

	report, err := l.Deliver(context.Background(), target, frags([2]int{1, 2}, [2]int{3, 4}, [2]int{5, 6}))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "measures 3-4")
	require.Equal(t, 2, d.dials)
	require.Equal(t, []string{"xx"}, d.sent)
	require.Equal(t, 1, report.Fragments)
	require.Equal(t, 0, report.Retries)
	require.Len(t, sl.durations, 1)

	st := l.Tracker().Snapshot()
	require.NotNil(t, st.InFlight)
	require.Equal(t, 3, st.InFlight.StartMeasure)
	require.Equal(t, 1, st.InFlight.Attempts)
}

func TestDeliverUnclassifiedDialErrorIsFatal(t *testing.T) {
	testlog.Start(t)
	badHandshake := &transport.Error{Op: "dial", Err: websocket.ErrBadHandshake}
	d := &fakeDialer{steps: []step{{dialErr: badHandshake}}}
	l, _ := newTestLoop(t, d, DefaultConfig())

	_, err := l.Deliver(context.Background(), target, frags([2]int{1, 2}))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, 1, d.dials)
}

func TestDeliverMaxAttempts(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{steps: []step{{dialErr: refused()}, {dialErr: refused()}, {dialErr: refused()}}}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	l, _ := newTestLoop(t, d, cfg)

	_, err := l.Deliver(context.Background(), target, frags([2]int{1, 2}))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, transport.ErrRefused)
	require.Equal(t, 2, d.dials)
}

func TestDeliverEmptySource(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	l, sl := newTestLoop(t, d, DefaultConfig())
	report, err := l.Deliver(context.Background(), target, frags())
	require.NoError(t, err)
	require.Equal(t, Report{}, report)
	require.Zero(t, d.dials)
	require.Empty(t, sl.durations)
}

func TestDeliverRequiresTarget(t *testing.T) {
	testlog.Start(t)
	l, _ := newTestLoop(t, &fakeDialer{}, DefaultConfig())
	_, err := l.Deliver(context.Background(), " ", frags([2]int{1, 1}))
	require.ErrorIs(t, err, ErrTargetRequired)
}

func TestDeliverStopsOnCancelDuringBackoff(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDialer{steps: []step{{dialErr: refused()}}}
	l, err := NewLoop(d, DefaultConfig(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	require.NoError(t, err)

	_, err = l.Deliver(ctx, target, frags([2]int{1, 2}))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, d.dials)
}

func TestNewLoopValidatesConfig(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxDelay = cfg.MinDelay - time.Millisecond
	_, err := NewLoop(&fakeDialer{}, cfg)
	require.ErrorIs(t, err, ErrInvalidDelay)

	cfg = DefaultConfig()
	cfg.MaxAttempts = -1
	_, err = NewLoop(&fakeDialer{}, cfg)
	require.ErrorIs(t, err, ErrInvalidMaxAttempts)

	cfg = DefaultConfig()
	cfg.Backoff.InitialDelay = -time.Second
	_, err = NewLoop(&fakeDialer{}, cfg)
	require.ErrorIs(t, err, ErrInvalidBackoff)

	_, err = NewLoop(nil, DefaultConfig())
	require.Error(t, err)
}

func TestInterFragmentDelayFixedWhenBoundsEqual(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MinDelay = 200 * time.Millisecond
	cfg.MaxDelay = 200 * time.Millisecond
	l, _ := newTestLoop(t, &fakeDialer{}, cfg)
	for i := 0; i < 10; i++ {
		require.Equal(t, 200*time.Millisecond, l.interFragmentDelay())
	}
}

func TestSleepContext(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}

// TestDeliverOverWebsocketSurvivesBrokerStart delivers a real score to a
// broker that is not listening yet.
func TestDeliverOverWebsocketSurvivesBrokerStart(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var (
		mu       sync.Mutex
		received []string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		received = append(received, string(msg))
		mu.Unlock()
	})

	doc, err := score.Parse(meifixture.Score(9))
	require.NoError(t, err)
	seg, err := segment.New(doc, 2, 4)
	require.NoError(t, err)

	cfg := Config{MinDelay: 0, MaxDelay: 5 * time.Millisecond, Backoff: FixedBackoff(20 * time.Millisecond)}
	l, err := NewLoop(transport.NewWebsocketDialer(transport.DefaultConfig()), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	brokerUp := make(chan *httptest.Server, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			brokerUp <- nil
			return
		}
		srv := httptest.NewUnstartedServer(handler)
		srv.Listener = ln
		srv.Start()
		brokerUp <- srv
	}()

	report, err := l.Deliver(ctx, "ws://"+addr+"/ws?type=provider", seg)
	srv := <-brokerUp
	require.NotNil(t, srv, "broker could not rebind %s", addr)
	defer srv.Close()
	require.NoError(t, err)
	require.Greater(t, report.Retries, 0)

	// The handler appends after ReadMessage returns; wait for the last one.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= report.Fragments
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i <= 9; i++ {
		seen := 0
		for _, msg := range received {
			if strings.Contains(msg, meifixture.MeasureMarker(i)) {
				seen++
			}
		}
		require.Equal(t, 1, seen, "measure %d", i)
	}
}

// TestDeliverRetriesFragmentsOnDroppedConnections runs against a broker that
// accepts and then drops its first connections with a going-away close. Every
// fragment counted as delivered must reach the broker.
func TestDeliverRetriesFragmentsOnDroppedConnections(t *testing.T) {
	testlog.Start(t)

	const dropped = 2
	var (
		mu       sync.Mutex
		accepted int
		received []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		mu.Lock()
		accepted++
		n := accepted
		mu.Unlock()
		if n <= dropped {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting")
			_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
	}))
	defer srv.Close()

	cfg := Config{Backoff: FixedBackoff(5 * time.Millisecond)}
	l, err := NewLoop(transport.NewWebsocketDialer(transport.DefaultConfig()), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	src := frags([2]int{1, 2}, [2]int{3, 4}, [2]int{5, 7})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?type=provider"
	report, err := l.Deliver(ctx, url, src)
	require.NoError(t, err)
	require.Equal(t, 3, report.Fragments)
	require.Equal(t, dropped, report.Retries)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"xx", "xx", "xxx"}, received)
}

func TestDeliverRetriesWhenCloseReportsPeerDrop(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{steps: []step{
		{closeErr: &transport.Error{Op: "close", Kind: transport.ErrClosed, Err: errors.New("close 1001 (going away)")}},
		{closeErr: errors.New("close: use of closed network connection")},
	}}
	l, sl := newTestLoop(t, d, DefaultConfig())

	report, err := l.Deliver(context.Background(), target, frags([2]int{1, 3}))
	require.NoError(t, err)
	require.Equal(t, 2, d.dials)
	require.Equal(t, 1, report.Fragments)
	require.Equal(t, 1, report.Retries)
	require.Equal(t, 500*time.Millisecond, sl.durations[0])
}
