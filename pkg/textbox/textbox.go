// Package textbox lays text out against opentype font metrics, so a
// fittext.Controller can drive a real text box without a rendering stack.
//
// A Box wraps its text greedily at the viewport width and reports the
// resulting extent as its content box. Words are never broken, so a single
// word wider than the viewport widens the content box past it.
package textbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/vito/fittext/pkg/fittext"
)

// Box measures text in pixels. The zero viewport fits nothing; call
// SetViewport before binding a controller.
type Box struct {
	font   *opentype.Font
	basePx float64

	mu        sync.Mutex
	buf       sfnt.Buffer
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
	tok any // unique token for removal
}

// New parses TTF or OTF font data. basePx is the pixel size a font size of
// 100% corresponds to.
func New(fontData []byte, basePx float64) (*Box, error) {
	if basePx <= 0 {
		return nil, errors.Errorf("base size must be positive, got %v", basePx)
	}
	f, err := opentype.Parse(fontData)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Box{font: f, basePx: basePx, percent: 100}, nil
}

// NewGoRegular is New with the embedded Go Regular face.
func NewGoRegular(basePx float64) (*Box, error) {
	return New(goregular.TTF, basePx)
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

// SetViewport sets the visible box in pixels and notifies resize listeners.
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

// SetFontSize applies a size as a percentage of the base pixel size.
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
	_, size := b.layoutLocked(b.pixelsLocked())
	return size
}

// FontPixels returns the pixel size the applied percentage works out to.
func (b *Box) FontPixels() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pixelsLocked()
}

// Lines returns the wrapped lines at the applied size.
func (b *Box) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines, _ := b.layoutLocked(b.pixelsLocked())
	return lines
}

// LineHeight returns the line spacing in pixels at the applied size.
func (b *Box) LineHeight() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineHeightLocked(pixelsToPpem(b.pixelsLocked()))
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

func (b *Box) pixelsLocked() float64 {
	return b.basePx * b.percent / 100
}

// layoutLocked wraps the text greedily at the viewport width and returns the
// lines along with their extent. Explicit newlines always break.
func (b *Box) layoutLocked(px float64) ([]string, fittext.Size) {
	ppem := pixelsToPpem(px)
	lineHeight := b.lineHeightLocked(ppem)

	var lines []string
	var widest float64
	push := func(line string, width float64) {
		lines = append(lines, line)
		if width > widest {
			widest = width
		}
	}

	space := b.advanceLocked(" ", ppem)
	for _, para := range strings.Split(b.text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			push("", 0)
			continue
		}
		line := words[0]
		width := b.advanceLocked(words[0], ppem)
		for _, word := range words[1:] {
			w := b.advanceLocked(word, ppem)
			if width+space+w > b.viewport.Width {
				push(line, width)
				line = word
				width = w
				continue
			}
			line += " " + word
			width += space + w
		}
		push(line, width)
	}

	return lines, fittext.Size{
		Width:  widest,
		Height: float64(len(lines)) * lineHeight,
	}
}

func (b *Box) lineHeightLocked(ppem fixed.Int26_6) float64 {
	met, err := b.font.Metrics(&b.buf, ppem, font.HintingFull)
	if err != nil || met.Height <= 0 {
		return fixedToFloat(ppem)
	}
	return fixedToFloat(met.Height)
}

// advanceLocked sums glyph advances for s. Runes the font has no glyph for
// contribute nothing.
func (b *Box) advanceLocked(s string, ppem fixed.Int26_6) float64 {
	var total fixed.Int26_6
	for _, r := range s {
		idx, err := b.font.GlyphIndex(&b.buf, r)
		if err != nil || idx == 0 {
			continue
		}
		adv, err := b.font.GlyphAdvance(&b.buf, idx, ppem, font.HintingFull)
		if err != nil {
			continue
		}
		total += adv
	}
	return fixedToFloat(total)
}

func pixelsToPpem(px float64) fixed.Int26_6 {
	return fixed.Int26_6(px * 64)
}

func fixedToFloat(x fixed.Int26_6) float64 {
	return float64(x) / 64
}
