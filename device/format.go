package device

import (
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// DepthFormats are the depth attachment formats tried, in order.
var DepthFormats = []driver.Format{
	driver.FormatD32Sfloat,
	driver.FormatD32SfloatS8Uint,
	driver.FormatD24UnormS8Uint,
}

// FindSupportedFormat returns the first candidate whose features for tiling
// include all of features.
func FindSupportedFormat(pd driver.PhysicalDevice, candidates []driver.Format, tiling driver.ImageTiling, features driver.FormatFeatureFlags) (driver.Format, error) {
	for _, f := range candidates {
		props := pd.FormatProperties(f)
		have := props.OptimalTiling
		if tiling == driver.ImageTilingLinear {
			have = props.LinearTiling
		}
		if have&features == features {
			return f, nil
		}
	}
	return driver.FormatUndefined, gpuerr.ResourceCreation(nil,
		"none of %d candidate formats supports features %#x", len(candidates), features)
}

// FindDepthFormat returns the depth attachment format for optimal tiling.
func (d *Device) FindDepthFormat() (driver.Format, error) {
	return FindSupportedFormat(d.physical, DepthFormats, driver.ImageTilingOptimal, driver.FormatFeatureDepthStencilAttachment)
}
