//go:build !(js && wasm)

// Package vulkan implements the driver interfaces on native Vulkan through
// pure Go bindings; no cgo is involved. Device memory is sub-allocated from
// large blocks by a buddy allocator.
//
// Presentation needs a window that implements driver.SurfaceProvider. Without
// one the backend reports driver.ErrNotAvailable, so driver.OpenDefault moves
// on to the next backend.
//
// The backend registers itself as "vulkan":
//
//	import _ "github.com/gogpu/gfx/driver/vulkan"
package vulkan

import (
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

func init() {
	driver.Register(driver.NameVulkan, func(cfg *driver.Config) (driver.Instance, error) {
		return New(cfg)
	})
}

var (
	_ driver.Instance       = (*Instance)(nil)
	_ driver.PhysicalDevice = (*physicalDevice)(nil)
	_ driver.Device         = (*Device)(nil)
	_ driver.Queue          = (*Queue)(nil)
	_ driver.CommandBuffer  = (*CommandBuffer)(nil)
)

const (
	layerValidation  = "VK_LAYER_KHRONOS_validation"
	extensionSurface = "VK_KHR_surface"
	engineName       = "gfx"
)

// Instance is an opened Vulkan instance with its presentation surface.
type Instance struct {
	handle  vk.Instance
	cmds    vk.Commands
	surface vk.SurfaceKHR

	mu     sync.Mutex
	logger *slog.Logger
}

// New loads the Vulkan library and creates an instance and a surface for
// cfg.Window.
func New(cfg *driver.Config) (*Instance, error) {
	if cfg == nil {
		cfg = &driver.Config{}
	}
	sp, ok := cfg.Window.(driver.SurfaceProvider)
	if !ok {
		return nil, errors.Wrap(driver.ErrNotAvailable, "vulkan: window cannot create a presentation surface")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(nopHandler{})
	}

	if err := vk.Init(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "vulkan: load library"), driver.ErrNotAvailable)
	}
	cmds := vk.NewCommands()
	if err := cmds.LoadGlobal(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "vulkan: load global commands"), driver.ErrNotAvailable)
	}

	extensions := append([]string{extensionSurface}, sp.RequiredInstanceExtensions()...)
	var layers []string
	if cfg.Validation {
		layers = append(layers, layerValidation)
	}
	handle, r := createInstance(cmds, cfg.AppName, layers, extensions)
	if r == vk.ErrorLayerNotPresent && len(layers) > 0 {
		logger.Warn("vulkan: validation layer not installed, continuing without it")
		handle, r = createInstance(cmds, cfg.AppName, nil, extensions)
	}
	if err := result(r, "vkCreateInstance"); err != nil {
		return nil, err
	}
	if err := cmds.LoadInstance(handle); err != nil {
		cmds.DestroyInstance(handle, nil)
		return nil, errors.Mark(errors.Wrap(err, "vulkan: load instance commands"), driver.ErrInitializationFailed)
	}
	vk.SetDeviceProcAddr(handle)

	inst := &Instance{handle: handle, cmds: *cmds, logger: logger}
	surface, err := sp.CreateSurface(uintptr(handle))
	if err != nil {
		inst.cmds.DestroyInstance(handle, nil)
		return nil, errors.Wrap(err, "vulkan: create surface")
	}
	inst.surface = vk.SurfaceKHR(surface)
	logger.Info("vulkan: instance created", "layers", layers, "extensions", extensions)
	return inst, nil
}

func createInstance(cmds *vk.Commands, app string, layers, extensions []string) (vk.Instance, vk.Result) {
	if app == "" {
		app = engineName
	}
	appName, engine := cstring(app), cstring(engineName)
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   uintptr(unsafe.Pointer(&appName[0])),
		ApplicationVersion: makeVersion(1, 0, 0),
		PEngineName:        uintptr(unsafe.Pointer(&engine[0])),
		EngineVersion:      makeVersion(0, 1, 0),
		ApiVersion:         makeVersion(1, 2, 0),
	}
	layerNames, layerPtrs := cstrings(layers)
	extNames, extPtrs := cstrings(extensions)
	info := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     sliceAddr(layerPtrs),
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: sliceAddr(extPtrs),
	}
	var handle vk.Instance
	r := cmds.CreateInstance(&info, nil, &handle)
	runtime.KeepAlive(appName)
	runtime.KeepAlive(engine)
	runtime.KeepAlive(layerNames)
	runtime.KeepAlive(extNames)
	return handle, r
}

func (i *Instance) Name() string { return driver.NameVulkan }

func (i *Instance) Surface() driver.Surface { return driver.Surface(i.surface) }

func (i *Instance) PhysicalDevices() ([]driver.PhysicalDevice, error) {
	var n uint32
	if err := result(i.cmds.EnumeratePhysicalDevices(i.handle, &n, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	handles := make([]vk.PhysicalDevice, n)
	if err := result(i.cmds.EnumeratePhysicalDevices(i.handle, &n, &handles[0]), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	out := make([]driver.PhysicalDevice, 0, n)
	for _, h := range handles[:n] {
		out = append(out, newPhysicalDevice(i, h))
	}
	return out, nil
}

func (i *Instance) Destroy() {
	if i.surface != 0 {
		i.cmds.DestroySurfaceKHR(i.handle, i.surface, nil)
		i.surface = 0
	}
	if i.handle != 0 {
		i.cmds.DestroyInstance(i.handle, nil)
		i.handle = 0
	}
}

func makeVersion(major, minor, patch uint32) uint32 {
	return major<<22 | minor<<12 | patch
}

// errorOutOfPoolMemory is VK_ERROR_OUT_OF_POOL_MEMORY (core since 1.1).
const errorOutOfPoolMemory vk.Result = -1000069000

// result maps a VkResult to nil or a driver sentinel error.
func result(r vk.Result, op string) error {
	var sentinel error
	switch r {
	case vk.Success:
		return nil
	case vk.Timeout, vk.NotReady:
		sentinel = driver.ErrTimeout
	case vk.SuboptimalKhr:
		sentinel = driver.ErrSuboptimal
	case vk.ErrorOutOfDateKhr:
		sentinel = driver.ErrOutOfDate
	case errorOutOfPoolMemory:
		sentinel = driver.ErrOutOfPoolMemory
	case vk.ErrorFragmentedPool:
		sentinel = driver.ErrFragmentedPool
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory:
		sentinel = driver.ErrOutOfDeviceMemory
	case vk.ErrorMemoryMapFailed:
		sentinel = driver.ErrMemoryMapFailed
	case vk.ErrorDeviceLost:
		sentinel = driver.ErrDeviceLost
	case vk.ErrorInitializationFailed, vk.ErrorIncompatibleDriver, vk.ErrorLayerNotPresent, vk.ErrorExtensionNotPresent:
		sentinel = driver.ErrInitializationFailed
	default:
		return errors.Newf("vulkan: %s: VkResult %d", op, r)
	}
	return errors.Wrapf(sentinel, "vulkan: %s", op)
}
