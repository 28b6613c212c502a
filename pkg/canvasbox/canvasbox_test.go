package canvasbox

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New([]byte("not a font"), 12)
	assert.Error(t, err)

	_, err = NewGoRegular(0)
	assert.Error(t, err)
}

func TestContentGrowsWithFontSize(t *testing.T) {
	box, err := NewGoRegular(12)
	require.NoError(t, err)
	box.SetText("The quick brown fox jumps over the lazy dog")
	box.SetViewport(1000, 1000)

	box.SetFontSize(50)
	small := box.Content()
	box.SetFontSize(100)
	large := box.Content()

	assert.Greater(t, small.Width, 0.0)
	assert.Greater(t, large.Width, small.Width)
	assert.Greater(t, large.Height, small.Height)
}

func TestWrapsAtViewportWidth(t *testing.T) {
	box, err := NewGoRegular(12)
	require.NoError(t, err)
	box.SetText("alpha beta gamma delta epsilon zeta")

	box.SetViewport(1000, 100)
	require.Len(t, box.Lines(), 1)
	wide := box.Content().Width

	box.SetViewport(wide/2, 100)
	assert.Greater(t, len(box.Lines()), 1)
}

func TestRenderPDFWritesDocument(t *testing.T) {
	box, err := NewGoRegular(12)
	require.NoError(t, err)
	box.SetText("fitted text\non two lines")
	box.SetViewport(120, 60)
	box.SetFontSize(80)

	var buf bytes.Buffer
	require.NoError(t, box.RenderPDF(&buf))
	assert.True(t, strings.HasPrefix(buf.String(), "%PDF"), "output does not start with a PDF header")
}

func TestRenderPDFRejectsEmptyViewport(t *testing.T) {
	box, err := NewGoRegular(12)
	require.NoError(t, err)
	box.SetText("anything")

	var buf bytes.Buffer
	assert.Error(t, box.RenderPDF(&buf))
}
