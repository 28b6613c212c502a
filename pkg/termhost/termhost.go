// Package termhost adapts the process terminal into a resize-notifying host
// for text fitting: raw mode, SIGWINCH tracking, and a pixel view of the
// window derived from a nominal cell size.
package termhost

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// CellSize is the nominal pixel footprint of one terminal cell, used to
// convert the window's cell grid into a pixel box.
type CellSize struct {
	Width  float64
	Height float64
}

// DefaultCellSize matches a common 8x16 cell.
var DefaultCellSize = CellSize{Width: 8, Height: 16}

// Terminal tracks the process terminal. Dimensions are cached and refreshed
// on SIGWINCH to avoid repeated ioctl syscalls.
type Terminal struct {
	origTermios *unix.Termios
	onInput     func([]byte)
	sigCh       chan os.Signal
	stopCtx     context.Context
	stopCancel  context.CancelFunc

	sizeMu sync.RWMutex
	cols   int
	rows   int

	listenMu  sync.Mutex
	listeners []resizeListener
}

type resizeListener struct {
	fn  func()
	tok any // unique token for removal
}

func New() *Terminal {
	return &Terminal{}
}

// Start puts the terminal into raw mode and begins listening for input and
// resize events. onInput receives raw bytes from stdin.
func (t *Terminal) Start(onInput func([]byte)) error {
	t.onInput = onInput
	t.stopCtx, t.stopCancel = context.WithCancel(context.Background())

	// Save and set raw mode.
	fd := int(os.Stdin.Fd())
	orig, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	t.origTermios = orig

	raw := *orig
	raw.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Cflag |= unix.CS8
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, &raw); err != nil {
		return fmt.Errorf("set raw: %w", err)
	}

	// Cache initial terminal size.
	t.refreshSize()

	// Read stdin in a goroutine.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				// Copy so the callback can keep the slice.
				data := make([]byte, n)
				copy(data, buf[:n])
				t.onInput(data)
			}
			if err != nil {
				return
			}
		}
	}()

	// Listen for SIGWINCH.
	t.sigCh = make(chan os.Signal, 1)
	signal.Notify(t.sigCh, syscall.SIGWINCH)
	go func() {
		for {
			select {
			case <-t.sigCh:
				t.refreshSize()
				t.notifyResize()
			case <-t.stopCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop restores the terminal to its original state.
func (t *Terminal) Stop() {
	if t.stopCancel != nil {
		t.stopCancel()
	}
	if t.sigCh != nil {
		signal.Stop(t.sigCh)
	}
	if t.origTermios != nil {
		fd := int(os.Stdin.Fd())
		_ = unix.IoctlSetTermios(fd, ioctlWriteTermios, t.origTermios)
	}
}

// OnResize registers fn to run after the terminal dimensions change.
// Returns a function that removes it.
func (t *Terminal) OnResize(fn func()) func() {
	type token struct{}
	tok := &token{}
	t.listenMu.Lock()
	t.listeners = append(t.listeners, resizeListener{fn: fn, tok: tok})
	t.listenMu.Unlock()
	return func() {
		t.listenMu.Lock()
		defer t.listenMu.Unlock()
		for i, l := range t.listeners {
			if l.tok == tok {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

func (t *Terminal) notifyResize() {
	t.listenMu.Lock()
	fns := make([]func(), len(t.listeners))
	for i, l := range t.listeners {
		fns[i] = l.fn
	}
	t.listenMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Terminal) Write(p []byte) {
	_, _ = os.Stdout.Write(p)
}

func (t *Terminal) WriteString(s string) {
	_, _ = os.Stdout.WriteString(s)
}

// Columns returns the current terminal width in cells.
func (t *Terminal) Columns() int {
	t.sizeMu.RLock()
	c := t.cols
	t.sizeMu.RUnlock()
	if c == 0 {
		return 80
	}
	return c
}

// Rows returns the current terminal height in cells.
func (t *Terminal) Rows() int {
	t.sizeMu.RLock()
	r := t.rows
	t.sizeMu.RUnlock()
	if r == 0 {
		return 24
	}
	return r
}

// PixelSize converts the current cell grid into a pixel box.
func (t *Terminal) PixelSize(cell CellSize) (w, h float64) {
	return float64(t.Columns()) * cell.Width, float64(t.Rows()) * cell.Height
}

// refreshSize queries the kernel for current terminal dimensions and caches
// them. Called once at Start and on every SIGWINCH.
func (t *Terminal) refreshSize() {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return
	}
	t.sizeMu.Lock()
	if ws.Col > 0 {
		t.cols = int(ws.Col)
	}
	if ws.Row > 0 {
		t.rows = int(ws.Row)
	}
	t.sizeMu.Unlock()
}

func (t *Terminal) HideCursor() {
	t.WriteString("\x1b[?25l")
}

func (t *Terminal) ShowCursor() {
	t.WriteString("\x1b[?25h")
}
