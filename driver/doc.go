// Package driver defines the Vulkan-shaped device abstraction the engine
// records and submits GPU work through, and a registry of backends.
//
// # Backends
//
// Backends register themselves from init() functions and are opened by name
// or by priority:
//
//	import _ "github.com/gogpu/gfx/driver/soft"   // simulated GPU, always available
//	import _ "github.com/gogpu/gfx/driver/vulkan" // native Vulkan via pure Go bindings
//
//	inst, err := driver.OpenDefault(&driver.Config{Window: win})
//
// # Handles
//
// Objects without behavior (buffers, fences, pipelines, ...) are plain
// uint64 handles so ownership can be tracked by value in deletion queues.
// Queues and command buffers are interfaces.
//
// # Available Backends
//
//   - "vulkan": native GPU through github.com/gogpu/wgpu/hal/vulkan/vk
//   - "soft": in-process device with asynchronous queues, used for headless
//     runs and tests
package driver
