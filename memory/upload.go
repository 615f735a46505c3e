package memory

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/command"
	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// ErrEmptyUpload is returned when an upload has no data.
var ErrEmptyUpload = errors.New("memory: empty upload")

// UploadBuffer copies data into a new device-local buffer through a staging
// buffer and an immediate submit. The destination is created with usage
// plus transfer-dst and registered in q; the staging buffer is destroyed
// before UploadBuffer returns.
func (a *Allocator) UploadBuffer(s *command.Submitter, data []byte, usage driver.BufferUsage, q *deletion.Queue) (AllocatedBuffer, error) {
	if len(data) == 0 {
		return AllocatedBuffer{}, ErrEmptyUpload
	}
	size := uint64(len(data))

	staging, err := a.CreateBuffer(size, driver.BufferUsageTransferSrc, CPUOnly, nil)
	if err != nil {
		return AllocatedBuffer{}, err
	}
	defer a.DestroyBuffer(staging)
	if err := a.Write(staging, 0, data); err != nil {
		return AllocatedBuffer{}, err
	}

	dst, err := a.CreateBuffer(size, usage|driver.BufferUsageTransferDst, GPUOnly, q)
	if err != nil {
		return AllocatedBuffer{}, err
	}
	err = s.Submit(func(cb driver.CommandBuffer) error {
		cb.CopyBuffer(staging.Buffer, dst.Buffer, []driver.BufferCopy{{Size: size}})
		return nil
	})
	if err != nil {
		return AllocatedBuffer{}, gpuerr.ResourceCreation(err, "upload %d bytes", size)
	}
	return dst, nil
}

// UploadImage copies tightly packed pixels into a new device-local sampled
// image, leaves it in SHADER_READ_ONLY_OPTIMAL layout and creates its view.
// Image, memory and view are registered in q.
func (a *Allocator) UploadImage(s *command.Submitter, pixels []byte, extent driver.Extent2D, format driver.Format, q *deletion.Queue) (AllocatedImage, error) {
	want := uint64(extent.Width) * uint64(extent.Height) * uint64(format.BytesPerTexel())
	if want == 0 || uint64(len(pixels)) != want {
		return AllocatedImage{}, gpuerr.AssetLoad(nil, "%dx%d image needs %d bytes, got %d", extent.Width, extent.Height, want, len(pixels))
	}

	staging, err := a.CreateBuffer(want, driver.BufferUsageTransferSrc, CPUOnly, nil)
	if err != nil {
		return AllocatedImage{}, err
	}
	defer a.DestroyBuffer(staging)
	if err := a.Write(staging, 0, pixels); err != nil {
		return AllocatedImage{}, err
	}

	ext3 := driver.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1}
	img, err := a.CreateImage(&driver.ImageDescriptor{
		Format:    format,
		Extent:    ext3,
		MipLevels: 1,
		Samples:   driver.SampleCount1,
		Tiling:    driver.ImageTilingOptimal,
		Usage:     driver.ImageUsageSampled | driver.ImageUsageTransferDst,
	}, GPUOnly, q)
	if err != nil {
		return AllocatedImage{}, err
	}

	err = s.Submit(func(cb driver.CommandBuffer) error {
		cb.PipelineBarrier(driver.PipelineStageTopOfPipe, driver.PipelineStageTransfer, []driver.ImageBarrier{{
			Image:     img.Image,
			Aspect:    driver.ImageAspectColor,
			OldLayout: driver.ImageLayoutUndefined,
			NewLayout: driver.ImageLayoutTransferDstOptimal,
			DstAccess: driver.AccessTransferWrite,
		}})
		cb.CopyBufferToImage(staging.Buffer, img.Image, driver.ImageLayoutTransferDstOptimal, []driver.BufferImageCopy{{
			Aspect: driver.ImageAspectColor,
			Extent: ext3,
		}})
		cb.PipelineBarrier(driver.PipelineStageTransfer, driver.PipelineStageFragmentShader, []driver.ImageBarrier{{
			Image:     img.Image,
			Aspect:    driver.ImageAspectColor,
			OldLayout: driver.ImageLayoutTransferDstOptimal,
			NewLayout: driver.ImageLayoutShaderReadOnlyOptimal,
			SrcAccess: driver.AccessTransferWrite,
			DstAccess: driver.AccessShaderRead,
		}})
		return nil
	})
	if err != nil {
		return AllocatedImage{}, gpuerr.ResourceCreation(err, "upload %dx%d image", extent.Width, extent.Height)
	}
	if err := a.CreateImageView(&img, driver.ImageAspectColor, q); err != nil {
		return AllocatedImage{}, err
	}
	return img, nil
}
