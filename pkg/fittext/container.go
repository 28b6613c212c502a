package fittext

// Size is a box measured in whatever units the container works in (pixels,
// millimeters, cells).
type Size struct {
	Width  float64
	Height float64
}

// Overflows reports whether s extends past box on either axis.
func (s Size) Overflows(box Size) bool {
	return s.Width > box.Width || s.Height > box.Height
}

// Container is the text-bearing box a Controller drives. SetFontSize applies
// a candidate as a percentage of the container's base font size; Viewport and
// Content are measured afterward to detect overflow.
type Container interface {
	SetFontSize(percent float64)

	// Viewport returns the visible box.
	Viewport() Size

	// Content returns the extent of the rendered text at the applied size.
	// It may exceed the viewport on either axis.
	Content() Size
}

// ResizeNotifier is implemented by containers whose viewport can change
// behind the controller's back. OnResize registers fn and returns a function
// that removes it.
type ResizeNotifier interface {
	OnResize(fn func()) (remove func())
}

// Scheduler defers work to a later tick. Schedule must not run fn
// synchronously; the returned cancel keeps a still-pending fn from running.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}
