// Package device selects a physical GPU and creates the logical device the
// engine renders with.
package device

import (
	"log/slog"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gfx/command"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// ExtensionSwapchain is the device extension presentation depends on.
const ExtensionSwapchain = "VK_KHR_swapchain"

// Scoring weights.
const (
	discreteBonus        = 1000
	separatePresentBonus = 1000
)

// Requirements lists what a device must support to be selected.
type Requirements struct {
	Extensions []string
	Features   driver.Features
}

// DefaultRequirements requires the swapchain extension, geometry shaders
// and anisotropic sampling.
func DefaultRequirements() Requirements {
	return Requirements{
		Extensions: []string{ExtensionSwapchain},
		Features:   driver.Features{GeometryShader: true, SamplerAnisotropy: true},
	}
}

// Score rates a candidate. Zero disqualifies it. A qualifying device scores
// the largest 2D image it supports, plus a bonus when it is a discrete GPU
// and another when it presents from a different family than it draws on.
func Score(pd driver.PhysicalDevice, req Requirements) uint32 {
	props := pd.Properties()
	features := pd.Features()

	if req.Features.GeometryShader && !features.GeometryShader {
		return 0
	}
	if req.Features.SamplerAnisotropy && !features.SamplerAnisotropy {
		return 0
	}
	exts := pd.Extensions()
	for _, ext := range req.Extensions {
		if !slices.Contains(exts, ext) {
			return 0
		}
	}
	if formats, err := pd.SurfaceFormats(); err != nil || len(formats) == 0 {
		return 0
	}
	if modes, err := pd.PresentModes(); err != nil || len(modes) == 0 {
		return 0
	}
	indices, err := FindQueueFamilies(pd)
	if err != nil || !indices.IsComplete() {
		return 0
	}

	score := props.Limits.MaxImageDimension2D
	if props.Type == gputypes.DeviceTypeDiscreteGPU {
		score += discreteBonus
	}
	if indices.SeparatePresent() {
		score += separatePresentBonus
	}
	return score
}

// Option configures Select.
type Option func(*selectOptions)

type selectOptions struct {
	req    Requirements
	logger *slog.Logger
}

// WithRequirements replaces DefaultRequirements.
func WithRequirements(req Requirements) Option {
	return func(o *selectOptions) {
		o.req = req
	}
}

// WithLogger sets the logger for selection diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *selectOptions) {
		o.logger = l
	}
}

// Pick returns the highest scoring candidate. Ties keep the earlier
// device. It fails with gpuerr.ErrDeviceSelection when none scores above
// zero.
func Pick(candidates []driver.PhysicalDevice, req Requirements) (driver.PhysicalDevice, uint32, error) {
	var (
		best      driver.PhysicalDevice
		bestScore uint32
	)
	for _, pd := range candidates {
		if s := Score(pd, req); s > bestScore {
			best, bestScore = pd, s
		}
	}
	if best == nil {
		return nil, 0, gpuerr.DeviceSelection(nil, "no suitable GPU among %d candidates", len(candidates))
	}
	return best, bestScore, nil
}

// Select picks the best physical device of inst and creates the logical
// device with one queue per unique family.
func Select(inst driver.Instance, opts ...Option) (*Device, error) {
	o := selectOptions{req: DefaultRequirements(), logger: slog.New(nopHandler{})}
	for _, opt := range opts {
		opt(&o)
	}

	candidates, err := inst.PhysicalDevices()
	if err != nil {
		return nil, gpuerr.DeviceSelection(err, "enumerate physical devices")
	}
	for _, pd := range candidates {
		p := pd.Properties()
		o.logger.Debug("device: candidate", "name", p.Name, "type", p.Type.String(), "score", Score(pd, o.req))
	}
	pd, score, err := Pick(candidates, o.req)
	if err != nil {
		return nil, err
	}
	indices, err := FindQueueFamilies(pd)
	if err != nil {
		return nil, gpuerr.DeviceSelection(err, "query queue families")
	}

	families := indices.Unique()
	queues := make([]driver.QueueCreateInfo, len(families))
	for i, f := range families {
		queues[i] = driver.QueueCreateInfo{Family: f, Priorities: []float32{1.0}}
	}
	dev, err := pd.CreateDevice(&driver.DeviceDescriptor{
		Queues:     queues,
		Extensions: o.req.Extensions,
		Features:   o.req.Features,
	})
	if err != nil {
		return nil, gpuerr.DeviceSelection(err, "create logical device on %q", pd.Properties().Name)
	}

	pool, err := command.NewPool(dev, *indices.Graphics, command.Resettable)
	if err != nil {
		dev.Destroy()
		return nil, err
	}

	d := &Device{
		dev:      dev,
		physical: pd,
		indices:  indices,
		props:    newProperties(pd),
		graphics: dev.Queue(*indices.Graphics, 0),
		present:  dev.Queue(*indices.Present, 0),
		transfer: dev.Queue(*indices.Transfer, 0),

		graphicsPool: pool,
		logger:       o.logger,
	}
	o.logger.Info("device: selected",
		"name", pd.Properties().Name,
		"score", score,
		"graphics", *indices.Graphics,
		"present", *indices.Present,
		"transfer", *indices.Transfer,
		"msaa", uint32(d.props.MaxUsableSampleCount))
	return d, nil
}
