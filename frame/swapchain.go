package frame

import (
	"log/slog"
	"math"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/device"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
	"github.com/gogpu/gfx/memory"
)

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB in the sRGB color space and
// falls back to the first format offered.
func ChooseSurfaceFormat(formats []driver.SurfaceFormat) driver.SurfaceFormat {
	for _, f := range formats {
		if f.Format == driver.FormatB8G8R8A8Srgb && f.ColorSpace == driver.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

// ChoosePresentMode prefers mailbox. FIFO is always available.
func ChoosePresentMode(modes []driver.PresentMode) driver.PresentMode {
	for _, m := range modes {
		if m == driver.PresentModeMailbox {
			return m
		}
	}
	return driver.PresentModeFifo
}

// ChooseExtent returns the surface extent, or the window size clamped to
// the surface limits when the surface leaves the choice to the swapchain.
func ChooseExtent(caps driver.SurfaceCapabilities, window driver.Extent2D) driver.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return driver.Extent2D{
		Width:  min(max(window.Width, caps.MinExtent.Width), caps.MaxExtent.Width),
		Height: min(max(window.Height, caps.MinExtent.Height), caps.MaxExtent.Height),
	}
}

// ImageCount asks for one image more than the minimum, within the maximum.
func ImageCount(caps driver.SurfaceCapabilities) uint32 {
	n := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && n > caps.MaxImageCount {
		n = caps.MaxImageCount
	}
	return n
}

// SwapchainConfig configures NewSwapchain.
type SwapchainConfig struct {
	Device    *device.Device
	Allocator *memory.Allocator
	Surface   driver.Surface

	// Window is the drawable size, used when the surface has no fixed
	// extent.
	Window driver.Extent2D

	// Main receives the render pass. Allocations receives the swapchain
	// and everything sized by it.
	Main        *deletion.Queue
	Allocations *deletion.Queue

	Logger *slog.Logger
}

// Swapchain is the presentation target: its images and views, a depth
// buffer, the render pass drawing into them and one framebuffer per image.
type Swapchain struct {
	handle       driver.Swapchain
	format       driver.SurfaceFormat
	mode         driver.PresentMode
	extent       driver.Extent2D
	images       []driver.Image
	views        []driver.ImageView
	depth        memory.AllocatedImage
	renderPass   driver.RenderPass
	framebuffers []driver.Framebuffer
}

// NewSwapchain creates the swapchain and its attachments.
func NewSwapchain(cfg SwapchainConfig) (*Swapchain, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(nopHandler{})
	}
	dev := cfg.Device.Driver()
	pd := cfg.Device.Physical()

	caps, err := pd.SurfaceCapabilities()
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "query surface capabilities")
	}
	formats, err := pd.SurfaceFormats()
	if err != nil || len(formats) == 0 {
		return nil, gpuerr.ResourceCreation(err, "query surface formats")
	}
	modes, err := pd.PresentModes()
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "query present modes")
	}

	sc := &Swapchain{
		format: ChooseSurfaceFormat(formats),
		mode:   ChoosePresentMode(modes),
		extent: ChooseExtent(caps, cfg.Window),
	}
	var families []uint32
	if idx := cfg.Device.Indices(); idx.SeparatePresent() {
		families = []uint32{*idx.Graphics, *idx.Present}
	}
	sc.handle, err = dev.CreateSwapchain(&driver.SwapchainDescriptor{
		Surface:       cfg.Surface,
		MinImageCount: ImageCount(caps),
		Format:        sc.format,
		Extent:        sc.extent,
		PresentMode:   sc.mode,
		Usage:         driver.ImageUsageColorAttachment,
		Families:      families,
	})
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "create swapchain")
	}
	cfg.Allocations.Push(deletion.KindSwapchain, uint64(sc.handle))

	if sc.images, err = dev.SwapchainImages(sc.handle); err != nil {
		return nil, gpuerr.ResourceCreation(err, "get swapchain images")
	}
	for i, img := range sc.images {
		v, err := dev.CreateImageView(&driver.ImageViewDescriptor{Image: img, Format: sc.format.Format, Aspect: driver.ImageAspectColor})
		if err != nil {
			return nil, gpuerr.ResourceCreation(err, "create view of swapchain image %d", i)
		}
		cfg.Allocations.Push(deletion.KindImageView, uint64(v))
		sc.views = append(sc.views, v)
	}

	depthFormat, err := cfg.Device.FindDepthFormat()
	if err != nil {
		return nil, err
	}
	sc.depth, err = cfg.Allocator.CreateImage(&driver.ImageDescriptor{
		Format:    depthFormat,
		Extent:    driver.Extent3D{Width: sc.extent.Width, Height: sc.extent.Height, Depth: 1},
		MipLevels: 1,
		Samples:   driver.SampleCount1,
		Tiling:    driver.ImageTilingOptimal,
		Usage:     driver.ImageUsageDepthStencilAttachment,
	}, memory.GPUOnly, cfg.Allocations)
	if err != nil {
		return nil, err
	}
	if err := cfg.Allocator.CreateImageView(&sc.depth, driver.ImageAspectDepth, cfg.Allocations); err != nil {
		return nil, err
	}

	if sc.renderPass, err = createRenderPass(dev, sc.format.Format, depthFormat); err != nil {
		return nil, err
	}
	cfg.Main.Push(deletion.KindRenderPass, uint64(sc.renderPass))

	for i, v := range sc.views {
		fb, err := dev.CreateFramebuffer(&driver.FramebufferDescriptor{
			RenderPass:  sc.renderPass,
			Attachments: []driver.ImageView{v, sc.depth.View},
			Extent:      sc.extent,
		})
		if err != nil {
			return nil, gpuerr.ResourceCreation(err, "create framebuffer %d", i)
		}
		cfg.Allocations.Push(deletion.KindFramebuffer, uint64(fb))
		sc.framebuffers = append(sc.framebuffers, fb)
	}

	cfg.Logger.Info("frame: swapchain created",
		"images", len(sc.images),
		"width", sc.extent.Width,
		"height", sc.extent.Height,
		"mode", sc.mode.String(),
		"concurrent", len(families) > 0)
	return sc, nil
}

// createRenderPass creates a single subpass pass that clears color and
// depth. The color target ends ready for presentation.
func createRenderPass(dev driver.Device, color, depth driver.Format) (driver.RenderPass, error) {
	rp, err := dev.CreateRenderPass(&driver.RenderPassDescriptor{
		Attachments: []driver.AttachmentDescription{
			{
				Format:         color,
				Samples:        driver.SampleCount1,
				LoadOp:         driver.LoadOpClear,
				StoreOp:        driver.StoreOpStore,
				StencilLoadOp:  driver.LoadOpDontCare,
				StencilStoreOp: driver.StoreOpDontCare,
				InitialLayout:  driver.ImageLayoutUndefined,
				FinalLayout:    driver.ImageLayoutPresentSrc,
			},
			{
				Format:         depth,
				Samples:        driver.SampleCount1,
				LoadOp:         driver.LoadOpClear,
				StoreOp:        driver.StoreOpDontCare,
				StencilLoadOp:  driver.LoadOpDontCare,
				StencilStoreOp: driver.StoreOpDontCare,
				InitialLayout:  driver.ImageLayoutUndefined,
				FinalLayout:    driver.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []driver.SubpassDescription{{
			ColorAttachments: []driver.AttachmentReference{{Attachment: 0, Layout: driver.ImageLayoutColorAttachmentOptimal}},
			DepthAttachment:  &driver.AttachmentReference{Attachment: 1, Layout: driver.ImageLayoutDepthStencilAttachmentOptimal},
		}},
		Dependencies: []driver.SubpassDependency{
			{
				SrcSubpass: driver.SubpassExternal,
				DstSubpass: 0,
				SrcStages:  driver.PipelineStageColorAttachmentOutput,
				DstStages:  driver.PipelineStageColorAttachmentOutput,
				DstAccess:  driver.AccessColorAttachmentWrite,
			},
			{
				SrcSubpass: driver.SubpassExternal,
				DstSubpass: 0,
				SrcStages:  driver.PipelineStageEarlyFragmentTests | driver.PipelineStageLateFragmentTests,
				DstStages:  driver.PipelineStageEarlyFragmentTests | driver.PipelineStageLateFragmentTests,
				DstAccess:  driver.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return 0, gpuerr.ResourceCreation(err, "create render pass")
	}
	return rp, nil
}

// Handle returns the driver swapchain.
func (sc *Swapchain) Handle() driver.Swapchain { return sc.handle }

// Format returns the chosen surface format.
func (sc *Swapchain) Format() driver.SurfaceFormat { return sc.format }

// PresentMode returns the chosen present mode.
func (sc *Swapchain) PresentMode() driver.PresentMode { return sc.mode }

// Extent returns the image size.
func (sc *Swapchain) Extent() driver.Extent2D { return sc.extent }

// Images returns the number of swapchain images.
func (sc *Swapchain) Images() int { return len(sc.images) }

// RenderPass returns the pass every pipeline is built against.
func (sc *Swapchain) RenderPass() driver.RenderPass { return sc.renderPass }

// Framebuffer returns the framebuffer of swapchain image i.
func (sc *Swapchain) Framebuffer(i uint32) driver.Framebuffer { return sc.framebuffers[i] }

// Depth returns the depth attachment.
func (sc *Swapchain) Depth() memory.AllocatedImage { return sc.depth }
