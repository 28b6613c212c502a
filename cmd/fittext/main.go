// Command fittext fits text into a fixed box by bisecting on font size.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/ansi"
	"github.com/kr/pretty"
	"github.com/spf13/cobra"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/sync/errgroup"

	"github.com/vito/fittext/pkg/canvasbox"
	"github.com/vito/fittext/pkg/fittext"
	"github.com/vito/fittext/pkg/termhost"
	"github.com/vito/fittext/pkg/textbox"
)

// Config holds the application configuration
type Config struct {
	Width      float64
	Height     float64
	MaxSize    float64
	MinSize    float64
	Resolution float64
	BasePixels float64
	FontPath   string
	LogLevel   string
	ConfigPath string
	Debug      bool
	PDFPath    string
	Watch      bool
}

const defaultText = "the quick brown fox jumps over the lazy dog"

func main() {
	var cfg Config

	// Create the root command
	rootCmd := &cobra.Command{
		Use:   "fittext [flags] [text...]",
		Short: "Fit text into a fixed box by bisecting on font size",
		Long: `Fittext searches for the largest font size at which a piece of text
still fits inside a fixed box, bisecting between a minimum and maximum
size. The box is measured in pixels and the result is reported as a
percentage of the base font size.`,
		Example: `  # Fit the default text into a 640x240 box
  fittext

  # Fit your own text into a custom box
  fittext --width 320 --height 120 "hello from a tight corner"

  # Watch the fit track your terminal as you resize it
  fittext --watch "resize me!"

  # Write a PDF of the fitted text
  fittext --pdf out.pdf "printable"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			fileText, err := applyFileConfig(cmd, &cfg)
			if err != nil {
				return err
			}
			if text == "" {
				text = fileText
			}
			if text == "" {
				text = defaultText
			}
			return run(cmd.Context(), cfg, text)
		},
	}

	// Add flags
	rootCmd.Flags().Float64Var(&cfg.Width, "width", 640, "Box width in pixels")
	rootCmd.Flags().Float64Var(&cfg.Height, "height", 240, "Box height in pixels")
	rootCmd.Flags().Float64Var(&cfg.MaxSize, "max", 100, "Largest font size to try, as a percentage of the base size")
	rootCmd.Flags().Float64Var(&cfg.MinSize, "min", 20, "Smallest font size to try, as a percentage of the base size")
	rootCmd.Flags().Float64Var(&cfg.Resolution, "resolution", 5, "Stop once the search interval shrinks to this many percentage points")
	rootCmd.Flags().Float64Var(&cfg.BasePixels, "base", 16, "Base font size in pixels (what 100% means)")
	rootCmd.Flags().StringVar(&cfg.FontPath, "font", "", "Path to a TTF font (defaults to Go Regular)")
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error, or none")
	rootCmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "Path to a fittext.toml (found by walking up from the working directory if not set)")
	rootCmd.Flags().BoolVarP(&cfg.Debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&cfg.PDFPath, "pdf", "", "Also fit the text onto a PDF page and write it here")
	rootCmd.Flags().BoolVarP(&cfg.Watch, "watch", "w", false, "Take over the terminal and refit on every resize")

	// Use fang for styled execution
	if err := fang.Execute(context.Background(), rootCmd,
		fang.WithVersion("v0.1.0"),
		fang.WithCommit("dev"),
		fang.WithErrorHandler(func(w io.Writer, styles fang.Styles, err error) {
			_, _ = fmt.Fprintln(w, err.Error())
		}),
	); err != nil {
		os.Exit(1)
	}
}

// fileConfig mirrors Config with optional fields so a fittext.toml can set
// only the values it cares about. Flags passed on the command line win.
type fileConfig struct {
	Text       string            `toml:"text,omitempty"`
	Width      *float64          `toml:"width,omitempty"`
	Height     *float64          `toml:"height,omitempty"`
	MaxSize    *float64          `toml:"max,omitempty"`
	MinSize    *float64          `toml:"min,omitempty"`
	Resolution *float64          `toml:"resolution,omitempty"`
	BasePixels *float64          `toml:"base,omitempty"`
	Font       string            `toml:"font,omitempty"`
	LogLevel   *fittext.LogLevel `toml:"log-level,omitempty"`
}

// applyFileConfig loads a fittext.toml and fills in any Config fields whose
// flags were not explicitly set. Returns the file's text, if any.
func applyFileConfig(cmd *cobra.Command, cfg *Config) (string, error) {
	path := cfg.ConfigPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = findConfigFile(cwd)
		if path == "" {
			return "", nil
		}
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}

	flags := cmd.Flags()
	if fc.Width != nil && !flags.Changed("width") {
		cfg.Width = *fc.Width
	}
	if fc.Height != nil && !flags.Changed("height") {
		cfg.Height = *fc.Height
	}
	if fc.MaxSize != nil && !flags.Changed("max") {
		cfg.MaxSize = *fc.MaxSize
	}
	if fc.MinSize != nil && !flags.Changed("min") {
		cfg.MinSize = *fc.MinSize
	}
	if fc.Resolution != nil && !flags.Changed("resolution") {
		cfg.Resolution = *fc.Resolution
	}
	if fc.BasePixels != nil && !flags.Changed("base") {
		cfg.BasePixels = *fc.BasePixels
	}
	if fc.Font != "" && !flags.Changed("font") {
		cfg.FontPath = fc.Font
	}
	if fc.LogLevel != nil && !flags.Changed("log-level") {
		cfg.LogLevel = fc.LogLevel.String()
	}

	return fc.Text, nil
}

// findConfigFile searches for a fittext.toml starting from dir, walking up.
func findConfigFile(startPath string) string {
	dir, err := filepath.Abs(startPath)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, "fittext.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return "" // stop at repo boundary
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func run(ctx context.Context, cfg Config, text string) error {
	// Set up slog with appropriate level
	level, err := fittext.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Debug {
		level = fittext.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.SlogLevel(),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if cfg.Debug {
		dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
		fmt.Fprintln(os.Stderr, dim.Render(fmt.Sprintf("%# v", pretty.Formatter(cfg))))
	}

	fontData, err := fontBytes(cfg)
	if err != nil {
		return err
	}

	box, err := textbox.New(fontData, cfg.BasePixels)
	if err != nil {
		return err
	}
	box.SetText(text)

	if cfg.Watch {
		return runWatch(ctx, cfg, level, logger, box)
	}

	box.SetViewport(cfg.Width, cfg.Height)

	started := make(chan struct{}, 1)
	done := make(chan float64, 1)
	ctrl, err := fittext.New(
		fittext.WithMaxFontSize(cfg.MaxSize),
		fittext.WithMinFontSize(cfg.MinSize),
		fittext.WithResolution(cfg.Resolution),
		fittext.WithLogLevel(level),
		fittext.WithLogger(logger),
		fittext.WithOnStart(func() {
			select {
			case started <- struct{}{}:
			default:
			}
		}),
		fittext.WithOnFinish(func(size float64) {
			select {
			case done <- size:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}

	detach, err := ctrl.Bind(box)
	if err != nil {
		return err
	}
	defer detach()

	_, fits, err := waitForFit(ctx, ctrl, started, done)
	if err != nil {
		return err
	}
	if !fits {
		return fmt.Errorf("%q does not fit in a %gx%g box even at %s of %gpx",
			text, cfg.Width, cfg.Height, ctrl.FontSize(), cfg.BasePixels)
	}

	printFit(cfg, box, ctrl)

	if cfg.PDFPath != "" {
		if err := writePDF(ctx, cfg, level, logger, fontData, text); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfg.PDFPath)
	}

	return nil
}

// waitForFit blocks until the controller's search terminates. The boolean
// is false when the text cannot fit even at the minimum font size.
func waitForFit(ctx context.Context, ctrl *fittext.Controller, started <-chan struct{}, done <-chan float64) (float64, bool, error) {
	select {
	case <-started:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-time.After(5 * time.Second):
		return 0, false, fmt.Errorf("fit search never started")
	}

	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case size := <-done:
			return size, true, nil
		case <-ticker.C:
			if ctrl.IsCalculating() {
				continue
			}
			// A search that ends without reporting a size hit the floor
			// without fitting. Give a converged result a moment to land:
			// the callback fires just after the calculating flag clears.
			select {
			case size := <-done:
				return size, true, nil
			case <-time.After(100 * time.Millisecond):
				return 0, false, nil
			}
		case <-deadline:
			return 0, false, fmt.Errorf("fit search timed out")
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}
}

func printFit(cfg Config, box *textbox.Box, ctrl *fittext.Controller) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	frame := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)

	content := box.Content()
	fmt.Println(dim.Render(fmt.Sprintf("fits at %s (%.4gpx): %gx%g of %gx%g used",
		ctrl.FontSize(), box.FontPixels(),
		content.Width, content.Height, cfg.Width, cfg.Height)))

	lines := box.Lines()
	for i, line := range lines {
		lines[i] = ansi.Truncate(line, 76, "…")
	}
	fmt.Println(frame.Render(strings.Join(lines, "\n")))
}

// writePDF refits the text against a PDF page of the same proportions and
// renders it. The page gets its own search: canvas metrics differ slightly
// from the raster metrics, and a fit borrowed from the pixel box could
// overflow the page.
func writePDF(ctx context.Context, cfg Config, level fittext.LogLevel, logger *slog.Logger, fontData []byte, text string) error {
	const mmPerPx = 25.4 / 96
	const ptPerPx = 0.75

	page, err := canvasbox.New(fontData, cfg.BasePixels*ptPerPx)
	if err != nil {
		return err
	}
	page.SetText(text)
	page.SetViewport(cfg.Width*mmPerPx, cfg.Height*mmPerPx)

	started := make(chan struct{}, 1)
	done := make(chan float64, 1)
	ctrl, err := fittext.New(
		fittext.WithMaxFontSize(cfg.MaxSize),
		fittext.WithMinFontSize(cfg.MinSize),
		fittext.WithResolution(cfg.Resolution),
		fittext.WithLogLevel(level),
		fittext.WithLogger(logger),
		fittext.WithOnStart(func() {
			select {
			case started <- struct{}{}:
			default:
			}
		}),
		fittext.WithOnFinish(func(size float64) {
			select {
			case done <- size:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}

	detach, err := ctrl.Bind(page)
	if err != nil {
		return err
	}
	defer detach()

	if _, _, err := waitForFit(ctx, ctrl, started, done); err != nil {
		return err
	}

	f, err := os.Create(cfg.PDFPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if err := page.RenderPDF(f); err != nil {
		return err
	}
	return f.Close()
}

// runWatch takes over the terminal: the box tracks the window size, and
// every resize kicks off a fresh fit.
func runWatch(ctx context.Context, cfg Config, level fittext.LogLevel, logger *slog.Logger, box *textbox.Box) error {
	term := termhost.New()

	quit := make(chan struct{})
	var quitOnce sync.Once
	if err := term.Start(func(data []byte) {
		for _, b := range data {
			if b == 'q' || b == 0x03 || b == 0x04 {
				quitOnce.Do(func() { close(quit) })
			}
		}
	}); err != nil {
		return err
	}
	defer term.Stop()
	term.HideCursor()
	defer term.ShowCursor()

	cell := termhost.DefaultCellSize
	applySize := func() {
		w, h := term.PixelSize(cell)
		// Leave room for the frame and the status line.
		box.SetViewport(w-4*cell.Width, h-5*cell.Height)
	}
	applySize()
	removeResize := term.OnResize(applySize)
	defer removeResize()

	// Coalesced redraw requests from the controller's callbacks.
	events := make(chan struct{}, 1)
	requestDraw := func() {
		select {
		case events <- struct{}{}:
		default:
		}
	}

	ctrl, err := fittext.New(
		fittext.WithMaxFontSize(cfg.MaxSize),
		fittext.WithMinFontSize(cfg.MinSize),
		fittext.WithResolution(cfg.Resolution),
		fittext.WithLogLevel(level),
		fittext.WithLogger(logger),
		fittext.WithOnStart(requestDraw),
		fittext.WithOnFinish(func(float64) { requestDraw() }),
	)
	if err != nil {
		return err
	}

	detach, err := ctrl.Bind(box)
	if err != nil {
		return err
	}
	defer detach()

	drawWatch(term, box, ctrl)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		// The ticker keeps the status line honest: a fit that bottoms out
		// at the minimum size ends without a finish callback.
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			case <-events:
				drawWatch(term, box, ctrl)
			case <-ticker.C:
				drawWatch(term, box, ctrl)
			}
		}
	})
	return eg.Wait()
}

func drawWatch(term *termhost.Terminal, box *textbox.Box, ctrl *fittext.Controller) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	frame := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)

	status := fmt.Sprintf("font %s at %.4gpx", ctrl.FontSize(), box.FontPixels())
	if ctrl.IsCalculating() {
		status = "fitting…"
	}
	status += "  (q to quit)"

	cols := term.Columns()
	if cols < 12 {
		cols = 12
	}
	lines := box.Lines()
	for i, line := range lines {
		lines[i] = ansi.Truncate(line, cols-6, "…")
	}

	var b strings.Builder
	b.WriteString("\x1b[2J\x1b[H")
	b.WriteString(dim.Render(ansi.Truncate(status, cols-1, "")))
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(frame.Render(strings.Join(lines, "\n")), "\n", "\r\n"))
	b.WriteString("\r\n")
	term.WriteString(b.String())
}

func fontBytes(cfg Config) ([]byte, error) {
	if cfg.FontPath == "" {
		return goregular.TTF, nil
	}
	data, err := os.ReadFile(cfg.FontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font %s: %w", cfg.FontPath, err)
	}
	return data, nil
}
