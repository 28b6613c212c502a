// Package fittext finds the largest font size, within configured bounds, at
// which a block of text fits inside its container, and keeps that size
// current as the container resizes or caller-declared inputs change.
//
// The search is a bisection over the size range: each candidate is applied
// to the container, the container reports whether its content overflows its
// viewport, and the bracket halves until the spread between consecutive
// candidates falls within the configured resolution. Measurement itself is
// the container's job; anything that can apply a percentage font size and
// report its viewport and content boxes can be driven (see the textbox and
// canvasbox packages for two implementations).
package fittext

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// LogLevel gates the controller's own logging independently of the handler
// installed on the supplied logger.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone suppresses all controller logging.
	LevelNone
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelNone:
		return "none"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

// ParseLogLevel converts a level name as written in flags and config files.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "none", "off":
		return LevelNone, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so a LogLevel can be
// decoded directly from TOML and flag values.
func (l *LogLevel) UnmarshalText(text []byte) error {
	lvl, err := ParseLogLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// SlogLevel translates l for use as a slog handler level. LevelNone maps
// above every standard level.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

type options struct {
	maxFontSize float64
	minFontSize float64
	resolution  float64
	logLevel    LogLevel
	logger      *slog.Logger
	scheduler   Scheduler
	onStart     func()
	onFinish    func(finalSize float64)
}

// Option configures a Controller. Configuration is fixed once New returns.
type Option func(*options)

// WithMaxFontSize sets the upper bound of the search range, as a percentage
// of the container's base font size. Default 100.
func WithMaxFontSize(pct float64) Option {
	return func(o *options) { o.maxFontSize = pct }
}

// WithMinFontSize sets the lower bound of the search range, as a percentage
// of the container's base font size. Default 20.
func WithMinFontSize(pct float64) Option {
	return func(o *options) { o.minFontSize = pct }
}

// WithResolution sets how close consecutive candidates must be before the
// search terminates. Default 5.
func WithResolution(pct float64) Option {
	return func(o *options) { o.resolution = pct }
}

// WithLogLevel sets the controller's logging gate. Default LevelWarn.
func WithLogLevel(lvl LogLevel) Option {
	return func(o *options) { o.logLevel = lvl }
}

// WithLogger supplies the logger search lifecycle events are written to.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithScheduler supplies the scheduler that runs the controller's work. By
// default each Bind owns a Loop.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithOnStart registers fn to run each time a search starts, before the
// first candidate is applied.
func WithOnStart(fn func()) Option {
	return func(o *options) { o.onStart = fn }
}

// WithOnFinish registers fn to receive the final size each time a search
// converges. It does not run when even the minimum size overflows.
func WithOnFinish(fn func(finalSize float64)) Option {
	return func(o *options) { o.onFinish = fn }
}

// New validates the configuration and returns an unbound Controller.
func New(opts ...Option) (*Controller, error) {
	o := options{
		maxFontSize: 100,
		minFontSize: 20,
		resolution:  5,
		logLevel:    LevelWarn,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if math.IsNaN(o.maxFontSize) || o.maxFontSize <= 0 {
		return nil, fmt.Errorf("maxFontSize must be greater than zero, got %v", o.maxFontSize)
	}
	if math.IsNaN(o.minFontSize) || o.minFontSize < 0 {
		return nil, fmt.Errorf("minFontSize must not be negative, got %v", o.minFontSize)
	}
	if o.minFontSize >= o.maxFontSize {
		return nil, fmt.Errorf("minFontSize %v must be less than maxFontSize %v", o.minFontSize, o.maxFontSize)
	}
	if math.IsNaN(o.resolution) || o.resolution <= 0 {
		return nil, fmt.Errorf("resolution must be greater than zero, got %v", o.resolution)
	}
	return &Controller{
		opts: o,
		state: searchState{
			current:    o.maxFontSize,
			previous:   o.minFontSize,
			bracketMin: o.minFontSize,
			bracketMax: o.maxFontSize,
		},
	}, nil
}

// formatPercent renders a size the way it is applied to containers: the
// shortest decimal representation followed by a percent sign.
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
