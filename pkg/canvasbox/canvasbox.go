// Package canvasbox measures text with tdewolff/canvas font faces and can
// render the fitted result to PDF. Box dimensions are in millimeters and
// font sizes in points, following canvas conventions.
package canvasbox

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/pdf"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/vito/fittext/pkg/fittext"
)

// Box is a fittext.Container measured through a canvas font face.
type Box struct {
	family *canvas.FontFamily
	basePt float64

	mu        sync.Mutex
	text      string
	viewport  fittext.Size
	percent   float64
	listeners []resizeListener
}

var (
	_ fittext.Container      = (*Box)(nil)
	_ fittext.ResizeNotifier = (*Box)(nil)
)

type resizeListener struct {
	fn  func()
	tok any
}

// New loads TTF or OTF font data. basePt is the point size a font size of
// 100% corresponds to.
func New(fontData []byte, basePt float64) (*Box, error) {
	if basePt <= 0 {
		return nil, errors.Errorf("base size must be positive, got %v", basePt)
	}
	family := canvas.NewFontFamily("fittext")
	if err := family.LoadFont(fontData, 0, canvas.FontRegular); err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	return &Box{family: family, basePt: basePt, percent: 100}, nil
}

// NewGoRegular is New with the embedded Go Regular face.
func NewGoRegular(basePt float64) (*Box, error) {
	return New(goregular.TTF, basePt)
}

// SetText replaces the text being fitted.
func (b *Box) SetText(s string) {
	b.mu.Lock()
	b.text = s
	b.mu.Unlock()
}

func (b *Box) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// SetViewport sets the visible box in millimeters and notifies resize
// listeners.
func (b *Box) SetViewport(w, h float64) {
	b.mu.Lock()
	b.viewport = fittext.Size{Width: w, Height: h}
	fns := make([]func(), len(b.listeners))
	for i, l := range b.listeners {
		fns[i] = l.fn
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetFontSize applies a size as a percentage of the base point size.
func (b *Box) SetFontSize(pct float64) {
	b.mu.Lock()
	b.percent = pct
	b.mu.Unlock()
}

func (b *Box) Viewport() fittext.Size {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewport
}

// Content returns the extent of the wrapped text at the applied size.
func (b *Box) Content() fittext.Size {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, size := b.layoutLocked()
	return size
}

// FontPoints returns the point size the applied percentage works out to.
func (b *Box) FontPoints() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pointsLocked()
}

// Lines returns the wrapped lines at the applied size.
func (b *Box) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines, _ := b.layoutLocked()
	return lines
}

// OnResize registers fn to run after every SetViewport. Returns a function
// that removes it.
func (b *Box) OnResize(fn func()) func() {
	type token struct{}
	tok := &token{}
	b.mu.Lock()
	b.listeners = append(b.listeners, resizeListener{fn: fn, tok: tok})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.tok == tok {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// RenderPDF draws the wrapped text at the applied size into a single-page
// PDF the size of the viewport.
func (b *Box) RenderPDF(w io.Writer) error {
	b.mu.Lock()
	face := b.faceLocked()
	lines, _ := b.layoutLocked()
	width, height := b.viewport.Width, b.viewport.Height
	b.mu.Unlock()

	if width <= 0 || height <= 0 {
		return errors.Errorf("viewport is empty: %gx%g", width, height)
	}

	c := canvas.New(width, height)
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)

	met := face.Metrics()
	y := 0.0
	for _, line := range lines {
		if line != "" {
			ctx.DrawText(0, y+met.Ascent, canvas.NewTextLine(face, line, canvas.Left))
		}
		y += met.LineHeight
	}

	writer := pdf.New(w, width, height, nil)
	c.RenderTo(writer)
	return writer.Close()
}

func (b *Box) pointsLocked() float64 {
	return b.basePt * b.percent / 100
}

func (b *Box) faceLocked() *canvas.FontFace {
	return b.family.Face(b.pointsLocked(), canvas.Black, canvas.FontRegular, canvas.FontNormal)
}

// layoutLocked wraps the text greedily at the viewport width. Explicit
// newlines always break; words are never split, so one wide word can push
// the content box past the viewport.
func (b *Box) layoutLocked() ([]string, fittext.Size) {
	face := b.faceLocked()
	lineHeight := face.Metrics().LineHeight

	var lines []string
	var widest float64
	push := func(line string) {
		lines = append(lines, line)
		if w := face.TextWidth(line); w > widest {
			widest = w
		}
	}

	for _, para := range strings.Split(b.text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			push("")
			continue
		}
		line := words[0]
		for _, word := range words[1:] {
			if face.TextWidth(line+" "+word) > b.viewport.Width {
				push(line)
				line = word
				continue
			}
			line += " " + word
		}
		push(line)
	}

	return lines, fittext.Size{
		Width:  widest,
		Height: float64(len(lines)) * lineHeight,
	}
}
