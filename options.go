package gfx

import (
	"log/slog"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/frame"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/material"
)

// MaxFramesInFlight bounds WithFramesInFlight.
const MaxFramesInFlight = 8

// ErrInvalidOption is returned by New for out of range options.
var ErrInvalidOption = errors.New("gfx: invalid option")

// Option configures an Engine during creation.
//
// Example:
//
//	e, err := gfx.New(window,
//	    gfx.WithFramesInFlight(3),
//	    gfx.WithShaderDir("shaders"),
//	)
type Option func(*options)

type options struct {
	appName        string
	driverName     string
	instance       driver.Instance
	framesInFlight int
	frameTimeout   time.Duration
	maxObjects     int
	clearColor     [4]float32
	shaderDir      string
	validation     bool
	logger         *slog.Logger
	events         gpucontext.EventSource
}

func defaultOptions() options {
	return options{
		appName:        "gfx",
		framesInFlight: 2,
		frameTimeout:   frame.DefaultTimeout,
		maxObjects:     material.DefaultMaxObjects,
		clearColor:     [4]float32{0, 0, 0.2, 1},
	}
}

func (o *options) validate() error {
	if o.framesInFlight < 1 || o.framesInFlight > MaxFramesInFlight {
		return errors.Wrapf(ErrInvalidOption, "frames in flight %d not in [1, %d]", o.framesInFlight, MaxFramesInFlight)
	}
	if o.maxObjects <= 0 {
		return errors.Wrapf(ErrInvalidOption, "max objects %d", o.maxObjects)
	}
	// Per-frame object data is addressed with 32-bit dynamic offsets.
	if uint64(o.maxObjects)*geom.ObjectDataSize*uint64(o.framesInFlight) > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidOption, "max objects %d with %d frames in flight overflows the object buffer",
			o.maxObjects, o.framesInFlight)
	}
	if o.frameTimeout <= 0 {
		return errors.Wrapf(ErrInvalidOption, "frame timeout %v", o.frameTimeout)
	}
	return nil
}

// WithAppName sets the application name reported to the driver.
func WithAppName(name string) Option {
	return func(o *options) {
		o.appName = name
	}
}

// WithFramesInFlight sets how many frames the CPU may record ahead of the
// GPU. The default is 2.
func WithFramesInFlight(n int) Option {
	return func(o *options) {
		o.framesInFlight = n
	}
}

// WithDriver selects a registered backend by name instead of the highest
// priority one that opens.
func WithDriver(name string) Option {
	return func(o *options) {
		o.driverName = name
	}
}

// WithInstance renders with an already opened driver instance. The engine
// does not destroy it on Close.
func WithInstance(inst driver.Instance) Option {
	return func(o *options) {
		o.instance = inst
	}
}

// WithClearColor sets the RGBA color frames are cleared to.
func WithClearColor(c [4]float32) Option {
	return func(o *options) {
		o.clearColor = c
	}
}

// WithFrameTimeout bounds the fence wait and image acquisition of a frame.
func WithFrameTimeout(d time.Duration) Option {
	return func(o *options) {
		o.frameTimeout = d
	}
}

// WithMaxObjects sets the per-frame object capacity.
func WithMaxObjects(n int) Option {
	return func(o *options) {
		o.maxObjects = n
	}
}

// WithShaderDir sets the directory shader files are loaded from.
func WithShaderDir(dir string) Option {
	return func(o *options) {
		o.shaderDir = dir
	}
}

// WithValidation enables backend validation.
func WithValidation(enabled bool) Option {
	return func(o *options) {
		o.validation = enabled
	}
}

// WithLogger gives the engine its own logger. Engines without one follow
// SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEventSource subscribes the engine to window resize events.
func WithEventSource(src gpucontext.EventSource) Option {
	return func(o *options) {
		o.events = src
	}
}
