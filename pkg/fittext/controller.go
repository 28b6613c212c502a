package fittext

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ErrBound is returned by Bind when the controller is already bound to a
// container.
var ErrBound = errors.New("controller is already bound to a container")

// Controller runs the fit search against a bound Container and keeps the
// result current across container resizes and dependency changes.
//
// All search transitions run on the controller's Scheduler, one at a time.
// The exported methods are safe to call from any goroutine.
type Controller struct {
	opts options

	mu           sync.Mutex
	bound        bool
	bindSeq      int
	container    Container
	scheduler    Scheduler
	ownedLoop    *Loop
	removeResize func()
	cancelReset  func()
	cancelStep   func()
	state        searchState
	calculating  bool
	deps         []any
	haveDeps     bool
}

// Bind attaches the controller to container and schedules the first search.
// If container implements ResizeNotifier, every resize notification
// schedules a restart. The returned detach function cancels pending work,
// unsubscribes, and clears the calculating flag; it is idempotent, and the
// controller may be bound again afterward.
func (c *Controller) Bind(container Container) (detach func(), err error) {
	c.mu.Lock()
	if c.bound {
		c.mu.Unlock()
		return nil, ErrBound
	}
	c.bound = true
	c.bindSeq++
	seq := c.bindSeq
	c.container = container
	if c.opts.scheduler != nil {
		c.scheduler = c.opts.scheduler
	} else {
		c.ownedLoop = NewLoop()
		c.scheduler = c.ownedLoop
	}
	c.mu.Unlock()

	if rn, ok := container.(ResizeNotifier); ok {
		remove := rn.OnResize(func() { c.scheduleReset(seq) })
		c.mu.Lock()
		if c.bound && c.bindSeq == seq {
			c.removeResize = remove
			remove = nil
		}
		c.mu.Unlock()
		if remove != nil {
			// Detached while subscribing.
			remove()
			return func() {}, nil
		}
	}

	// Initial delivery, so the first search needs no external resize.
	c.scheduleReset(seq)

	return func() { c.detach(seq) }, nil
}

func (c *Controller) detach(seq int) {
	c.mu.Lock()
	if !c.bound || c.bindSeq != seq {
		c.mu.Unlock()
		return
	}
	c.bound = false
	c.calculating = false
	remove := c.removeResize
	cancelReset := c.cancelReset
	cancelStep := c.cancelStep
	loop := c.ownedLoop
	c.removeResize = nil
	c.cancelReset = nil
	c.cancelStep = nil
	c.ownedLoop = nil
	c.scheduler = nil
	c.container = nil
	c.mu.Unlock()

	if cancelReset != nil {
		cancelReset()
	}
	if cancelStep != nil {
		cancelStep()
	}
	if remove != nil {
		remove()
	}
	if loop != nil {
		loop.Close()
	}
}

// scheduleReset coalesces restart triggers: a pending scheduled reset is
// replaced, never queued behind.
func (c *Controller) scheduleReset(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound || c.bindSeq != seq {
		return
	}
	if c.cancelReset != nil {
		c.cancelReset()
	}
	c.cancelReset = c.scheduler.Schedule(func() { c.runReset(seq) })
}

// runReset starts a fresh search unless one is already in progress, in which
// case the trigger is dropped entirely.
func (c *Controller) runReset(seq int) {
	c.mu.Lock()
	c.cancelReset = nil
	if !c.bound || c.bindSeq != seq || c.calculating {
		c.mu.Unlock()
		return
	}
	c.calculating = true
	c.mu.Unlock()

	if c.opts.onStart != nil {
		c.opts.onStart()
	}

	c.mu.Lock()
	if !c.bound || c.bindSeq != seq {
		// Detached from inside onStart.
		c.mu.Unlock()
		return
	}
	c.state = c.state.reset(c.opts.minFontSize, c.opts.maxFontSize)
	gen := c.state.generation
	container := c.container
	c.mu.Unlock()

	c.logDebug("starting fit search",
		"generation", gen,
		"maxFontSize", c.opts.maxFontSize,
		"minFontSize", c.opts.minFontSize,
		"resolution", c.opts.resolution)

	container.SetFontSize(c.opts.maxFontSize)
	c.scheduleStep(seq, gen)
}

func (c *Controller) scheduleStep(seq, gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound || c.bindSeq != seq || c.state.generation != gen {
		return
	}
	if c.cancelStep != nil {
		c.cancelStep()
	}
	c.cancelStep = c.scheduler.Schedule(func() { c.runStep(seq, gen) })
}

// runStep measures the current candidate and advances the search. A step
// scheduled for a superseded generation or bind is a no-op.
func (c *Controller) runStep(seq, gen int) {
	c.mu.Lock()
	c.cancelStep = nil
	if !c.bound || c.bindSeq != seq || gen == 0 || c.state.generation != gen {
		c.mu.Unlock()
		return
	}
	st := c.state
	container := c.container
	c.mu.Unlock()

	content := container.Content()
	viewport := container.Viewport()
	overflow := content.Overflows(viewport)

	next, outcome := st.step(overflow, c.opts.resolution)

	c.mu.Lock()
	if !c.bound || c.bindSeq != seq || c.state.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = next
	if outcome != stepContinue {
		c.calculating = false
	}
	c.mu.Unlock()

	switch outcome {
	case stepContinue:
		c.logDebug("fit step",
			"generation", gen,
			"overflow", overflow,
			"fontSize", next.current,
			"bracketMin", next.bracketMin,
			"bracketMax", next.bracketMax)
		container.SetFontSize(next.current)
		c.scheduleStep(seq, gen)
	case stepConverged:
		c.logDebug("fit converged",
			"generation", gen,
			"fontSize", next.current)
		if c.opts.onFinish != nil {
			c.opts.onFinish(next.current)
		}
	case stepFailed:
		c.logWarn("reached minFontSize without fitting text",
			"minFontSize", c.opts.minFontSize)
	}
}

// SetDeps declares the inputs the fitted text depends on. A change relative
// to the previous call (by deep structural equality) schedules a restart,
// unless no search has run yet or one is in progress. The first call only
// records the snapshot.
func (c *Controller) SetDeps(deps ...any) {
	c.mu.Lock()
	changed := c.haveDeps && !reflect.DeepEqual(deps, c.deps)
	c.deps = deps
	c.haveDeps = true
	trigger := changed && c.bound && c.state.generation > 0 && !c.calculating
	seq := c.bindSeq
	c.mu.Unlock()

	if trigger {
		c.scheduleReset(seq)
	}
}

// FontSize returns the size to apply, formatted as a percentage such as
// "62.5%". Before the first search it reports the configured maximum.
func (c *Controller) FontSize() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return formatPercent(c.state.current)
}

// IsCalculating reports whether a search is in progress.
func (c *Controller) IsCalculating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calculating
}

func (c *Controller) logDebug(msg string, args ...any) {
	if c.opts.logLevel > LevelDebug {
		return
	}
	c.opts.logger.Debug(msg, args...)
}

func (c *Controller) logWarn(msg string, args ...any) {
	if c.opts.logLevel > LevelWarn {
		return
	}
	c.opts.logger.Warn(msg, args...)
}
