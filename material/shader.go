package material

import (
	"os"

	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// LoadShaderModule reads a SPIR-V binary and creates a shader module from
// it. Missing, empty and misaligned files are asset load failures.
func LoadShaderModule(dev driver.Device, path string) (driver.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return 0, gpuerr.AssetLoad(err, "read shader %s", path)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		return 0, gpuerr.AssetLoad(nil, "shader %s: %d bytes is not a SPIR-V word stream", path, len(code))
	}
	m, err := dev.CreateShaderModule(code)
	if err != nil {
		return 0, gpuerr.AssetLoad(err, "create shader module from %s", path)
	}
	return m, nil
}
