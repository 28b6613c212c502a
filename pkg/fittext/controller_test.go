package fittext

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContainer fits any size at or below threshold and overflows above it.
// It records every applied size and supports resize notifications.
type fakeContainer struct {
	mu        sync.Mutex
	viewport  Size
	threshold float64
	fontSize  float64
	applied   []float64
	listeners []*fakeListener
}

type fakeListener struct {
	fn      func()
	removed bool
}

func newFakeContainer(threshold float64) *fakeContainer {
	return &fakeContainer{
		viewport:  Size{Width: 100, Height: 40},
		threshold: threshold,
	}
}

func (f *fakeContainer) SetFontSize(pct float64) {
	f.mu.Lock()
	f.fontSize = pct
	f.applied = append(f.applied, pct)
	f.mu.Unlock()
}

func (f *fakeContainer) Viewport() Size {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewport
}

func (f *fakeContainer) Content() Size {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fontSize > f.threshold {
		return Size{Width: f.viewport.Width, Height: f.viewport.Height + 1}
	}
	return f.viewport
}

func (f *fakeContainer) OnResize(fn func()) func() {
	l := &fakeListener{fn: fn}
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		l.removed = true
		f.mu.Unlock()
	}
}

// resize changes the viewport and notifies listeners, like a container whose
// host window changed.
func (f *fakeContainer) resize(w, h float64) {
	f.mu.Lock()
	f.viewport = Size{Width: w, Height: h}
	var fns []func()
	for _, l := range f.listeners {
		if !l.removed {
			fns = append(fns, l.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeContainer) setThreshold(v float64) {
	f.mu.Lock()
	f.threshold = v
	f.mu.Unlock()
}

func (f *fakeContainer) appliedSizes() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.applied))
	copy(out, f.applied)
	return out
}

func (f *fakeContainer) activeListeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.listeners {
		if !l.removed {
			n++
		}
	}
	return n
}

// manualScheduler queues callbacks until the test pumps them, so every
// interleaving of triggers and steps is driven explicitly.
type manualScheduler struct {
	mu    sync.Mutex
	queue []*manualTask
}

type manualTask struct {
	fn       func()
	canceled bool
}

func (s *manualScheduler) Schedule(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{fn: fn}
	s.queue = append(s.queue, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.canceled = true
	}
}

// runNext runs the oldest pending callback. Returns false when idle.
func (s *manualScheduler) runNext() bool {
	s.mu.Lock()
	var t *manualTask
	for len(s.queue) > 0 {
		head := s.queue[0]
		s.queue = s.queue[1:]
		if !head.canceled {
			t = head
			break
		}
	}
	s.mu.Unlock()
	if t == nil {
		return false
	}
	t.fn()
	return true
}

func (s *manualScheduler) drain() int {
	n := 0
	for s.runNext() {
		n++
	}
	return n
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.queue {
		if !t.canceled {
			n++
		}
	}
	return n
}

// recordingHandler captures slog records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r.Clone())
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) byLevel(lvl slog.Level) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, r := range h.records {
		if r.Level == lvl {
			out = append(out, r)
		}
	}
	return out
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestBindRunsInitialSearch(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var finished []float64
	ctrl, err := New(
		WithScheduler(sched),
		WithOnFinish(func(v float64) { finished = append(finished, v) }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()

	assert.Equal(t, []float64{100, 60, 80, 70, 65, 60, 65, 60}, box.appliedSizes())
	assert.Equal(t, []float64{60}, finished)
	assert.Equal(t, "60%", ctrl.FontSize())
	assert.False(t, ctrl.IsCalculating())
}

func TestDoubleBindReturnsErrBound(t *testing.T) {
	ctrl, err := New(WithScheduler(&manualScheduler{}))
	require.NoError(t, err)

	detach, err := ctrl.Bind(newFakeContainer(62))
	require.NoError(t, err)
	defer detach()

	_, err = ctrl.Bind(newFakeContainer(62))
	assert.ErrorIs(t, err, ErrBound)
}

func TestMethodsAreNoopsBeforeBind(t *testing.T) {
	ctrl, err := New()
	require.NoError(t, err)

	assert.Equal(t, "100%", ctrl.FontSize())
	assert.False(t, ctrl.IsCalculating())
	ctrl.SetDeps("anything", 42)
	assert.False(t, ctrl.IsCalculating())
}

func TestDetachCancelsPendingStep(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var finished int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnFinish(func(float64) { finished++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)

	// Run the reset only: the first candidate is applied and a measurement
	// step is pending.
	require.True(t, sched.runNext())
	assert.True(t, ctrl.IsCalculating())
	assert.Equal(t, []float64{100}, box.appliedSizes())

	detach()

	assert.False(t, ctrl.IsCalculating())
	assert.Equal(t, 0, sched.drain())
	assert.Equal(t, []float64{100}, box.appliedSizes())
	assert.Equal(t, 0, finished)
	assert.Equal(t, 0, box.activeListeners())
}

func TestDetachIsIdempotentAndRebindWorks(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	ctrl, err := New(WithScheduler(sched))
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	sched.drain()
	detach()
	detach()

	next := newFakeContainer(62)
	detach2, err := ctrl.Bind(next)
	require.NoError(t, err)
	defer detach2()

	sched.drain()
	assert.Equal(t, "60%", ctrl.FontSize())
	assert.Equal(t, 2, ctrl.state.generation)
}

func TestResizeRestartsSearch(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts, finishes int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
		WithOnFinish(func(float64) { finishes++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()
	require.Equal(t, 1, starts)
	require.Equal(t, 1, finishes)

	box.setThreshold(35.7)
	box.resize(80, 30)
	sched.drain()

	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, finishes)
	assert.Equal(t, "35%", ctrl.FontSize())
}

func TestRapidResizesCoalesceIntoOneRestart(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()
	require.Equal(t, 1, starts)

	box.resize(90, 40)
	box.resize(80, 40)
	box.resize(70, 40)
	assert.Equal(t, 1, sched.pending())

	sched.drain()
	assert.Equal(t, 2, starts)
}

func TestResizeDuringSearchIsDropped(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts, finishes int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
		WithOnFinish(func(float64) { finishes++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	// Reset plus two measurement steps, mid-search.
	require.True(t, sched.runNext())
	require.True(t, sched.runNext())
	require.True(t, sched.runNext())
	require.True(t, ctrl.IsCalculating())

	box.resize(90, 40)
	sched.drain()

	// The in-flight search completed; the mid-search trigger restarted
	// nothing, not even afterward.
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, finishes)
	assert.Equal(t, 0, sched.pending())
	assert.Equal(t, "60%", ctrl.FontSize())
}

func TestSetDepsFirstCallOnlyStores(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()
	require.Equal(t, 1, starts)

	ctrl.SetDeps("hello", []int{1, 2})
	sched.drain()
	assert.Equal(t, 1, starts)
}

func TestSetDepsChangeRestartsSearch(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()
	ctrl.SetDeps("hello", []int{1, 2})
	sched.drain()
	require.Equal(t, 1, starts)

	ctrl.SetDeps("hello", []int{1, 3})
	sched.drain()
	assert.Equal(t, 2, starts)
}

func TestSetDepsDeepEqualValueDoesNotRestart(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()
	ctrl.SetDeps(map[string][]int{"a": {1, 2}}, "text")
	sched.drain()
	require.Equal(t, 1, starts)

	// A fresh allocation with equal structure is not a change.
	ctrl.SetDeps(map[string][]int{"a": {1, 2}}, "text")
	sched.drain()
	assert.Equal(t, 1, starts)

	ctrl.SetDeps(map[string][]int{"a": {1, 9}}, "text")
	sched.drain()
	assert.Equal(t, 2, starts)
}

func TestSetDepsDuringSearchIsDropped(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var starts int
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() { starts++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	ctrl.SetDeps("v1")
	require.True(t, sched.runNext())
	require.True(t, ctrl.IsCalculating())

	ctrl.SetDeps("v2")
	sched.drain()
	assert.Equal(t, 1, starts)

	// The snapshot was still stored: repeating the mid-search value is not a
	// change afterward.
	ctrl.SetDeps("v2")
	sched.drain()
	assert.Equal(t, 1, starts)

	ctrl.SetDeps("v3")
	sched.drain()
	assert.Equal(t, 2, starts)
}

func TestOnStartFiresBeforeReset(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(62)

	var sizesAtStart []string
	var calcAtStart []bool
	var ctrl *Controller
	ctrl, err := New(
		WithScheduler(sched),
		WithOnStart(func() {
			sizesAtStart = append(sizesAtStart, ctrl.FontSize())
			calcAtStart = append(calcAtStart, ctrl.IsCalculating())
		}),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()
	box.resize(90, 40)
	sched.drain()

	// The second start still observes the previous result: the state is
	// replaced only after onStart returns.
	require.Equal(t, []string{"100%", "60%"}, sizesAtStart)
	assert.Equal(t, []bool{true, true}, calcAtStart)
}

func TestConvergenceFailureWarnsOnce(t *testing.T) {
	sched := &manualScheduler{}
	box := newFakeContainer(10) // overflows even at the minimum

	handler := &recordingHandler{}
	var finishes int
	ctrl, err := New(
		WithScheduler(sched),
		WithLogger(slog.New(handler)),
		WithOnFinish(func(float64) { finishes++ }),
	)
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	sched.drain()

	assert.Equal(t, []float64{100, 60, 40, 30, 25, 20, 20}, box.appliedSizes())
	assert.Equal(t, 0, finishes)
	assert.False(t, ctrl.IsCalculating())

	warns := handler.byLevel(slog.LevelWarn)
	require.Len(t, warns, 1)
	assert.Equal(t, "reached minFontSize without fitting text", warns[0].Message)

	var minAttr float64 = -1
	warns[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "minFontSize" {
			minAttr = a.Value.Float64()
		}
		return true
	})
	assert.Equal(t, 20.0, minAttr)
}

func TestLogLevelGatesControllerLogging(t *testing.T) {
	run := func(lvl LogLevel, threshold float64) *recordingHandler {
		sched := &manualScheduler{}
		handler := &recordingHandler{}
		ctrl, err := New(
			WithScheduler(sched),
			WithLogger(slog.New(handler)),
			WithLogLevel(lvl),
		)
		require.NoError(t, err)
		detach, err := ctrl.Bind(newFakeContainer(threshold))
		require.NoError(t, err)
		defer detach()
		sched.drain()
		return handler
	}

	// None silences everything, including the failure warning.
	assert.Equal(t, 0, run(LevelNone, 10).count())

	// Error suppresses the warning as well.
	assert.Equal(t, 0, run(LevelError, 10).count())

	// The default gate hides step logging.
	assert.Equal(t, 0, run(LevelWarn, 62).count())

	// Debug exposes the search lifecycle.
	debug := run(LevelDebug, 62)
	assert.NotEmpty(t, debug.byLevel(slog.LevelDebug))
}

func TestParseLogLevel(t *testing.T) {
	for name, want := range map[string]LogLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"WARN":    LevelWarn,
		"error":   LevelError,
		"none":    LevelNone,
		"off":     LevelNone,
	} {
		got, err := ParseLogLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)

	var lvl LogLevel
	require.NoError(t, lvl.UnmarshalText([]byte("warning")))
	assert.Equal(t, LevelWarn, lvl)
	assert.Error(t, lvl.UnmarshalText([]byte("loud")))

	assert.Equal(t, "warn", LevelWarn.String())
	assert.Greater(t, LevelNone.SlogLevel(), slog.LevelError)
}

func TestNewValidatesConfiguration(t *testing.T) {
	cases := []struct {
		name string
		opts []Option
	}{
		{"zero max", []Option{WithMaxFontSize(0)}},
		{"negative max", []Option{WithMaxFontSize(-10)}},
		{"NaN max", []Option{WithMaxFontSize(math.NaN())}},
		{"negative min", []Option{WithMinFontSize(-1)}},
		{"min equals max", []Option{WithMaxFontSize(50), WithMinFontSize(50)}},
		{"min above max", []Option{WithMaxFontSize(50), WithMinFontSize(60)}},
		{"zero resolution", []Option{WithResolution(0)}},
		{"negative resolution", []Option{WithResolution(-5)}},
		{"NaN resolution", []Option{WithResolution(math.NaN())}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opts...)
			assert.Error(t, err)
		})
	}

	// Zero minimum is allowed.
	_, err := New(WithMinFontSize(0))
	assert.NoError(t, err)
}

func TestControllerWithOwnedLoop(t *testing.T) {
	box := newFakeContainer(62)

	done := make(chan float64, 1)
	ctrl, err := New(WithOnFinish(func(v float64) { done <- v }))
	require.NoError(t, err)

	detach, err := ctrl.Bind(box)
	require.NoError(t, err)
	defer detach()

	select {
	case v := <-done:
		assert.Equal(t, 60.0, v)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not finish")
	}
	assert.False(t, ctrl.IsCalculating())
	assert.Equal(t, "60%", ctrl.FontSize())
}
