package gfx

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/frame"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/material"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.framesInFlight != 2 {
		t.Errorf("framesInFlight = %d, want 2", o.framesInFlight)
	}
	if o.frameTimeout != frame.DefaultTimeout {
		t.Errorf("frameTimeout = %v, want %v", o.frameTimeout, frame.DefaultTimeout)
	}
	if o.maxObjects != material.DefaultMaxObjects {
		t.Errorf("maxObjects = %d, want %d", o.maxObjects, material.DefaultMaxObjects)
	}
	if err := o.validate(); err != nil {
		t.Errorf("validate() = %v for defaults", err)
	}
}

func TestOptionsApply(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithAppName("demo"),
		WithFramesInFlight(3),
		WithDriver("soft"),
		WithClearColor([4]float32{1, 0, 0, 1}),
		WithFrameTimeout(250 * time.Millisecond),
		WithMaxObjects(64),
		WithShaderDir("shaders"),
		WithValidation(true),
	} {
		opt(&o)
	}
	if o.appName != "demo" || o.framesInFlight != 3 || o.driverName != "soft" ||
		o.clearColor != [4]float32{1, 0, 0, 1} || o.frameTimeout != 250*time.Millisecond ||
		o.maxObjects != 64 || o.shaderDir != "shaders" || !o.validation {
		t.Errorf("options not applied: %+v", o)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero frames in flight", WithFramesInFlight(0)},
		{"too many frames in flight", WithFramesInFlight(MaxFramesInFlight + 1)},
		{"zero max objects", WithMaxObjects(0)},
		{"object buffer overflow", WithMaxObjects(math.MaxUint32 / geom.ObjectDataSize)},
		{"negative timeout", WithFrameTimeout(-time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			tt.opt(&o)
			if err := o.validate(); !errors.Is(err, ErrInvalidOption) {
				t.Errorf("validate() = %v, want ErrInvalidOption", err)
			}
		})
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(nil, WithFramesInFlight(0), WithDriver("soft")); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("New() error = %v, want ErrInvalidOption", err)
	}
}
