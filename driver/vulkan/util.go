//go:build !(js && wasm)

package vulkan

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/gogpu/wgpu/hal/vulkan/vk"
)

// nopHandler discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// SetLogger sets the logger for the instance and the devices created from
// it afterwards. Nil restores silence.
func (i *Instance) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	i.mu.Lock()
	i.logger = l
	i.mu.Unlock()
}

func (i *Instance) log() *slog.Logger {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.logger
}

// cstring returns s as a NUL-terminated byte slice.
func cstring(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// cstrings converts names to C strings. The first result owns the bytes
// and must be kept alive until the call that reads the pointers returns.
func cstrings(names []string) ([][]byte, []uintptr) {
	bufs := make([][]byte, len(names))
	ptrs := make([]uintptr, len(names))
	for i, n := range names {
		bufs[i] = cstring(n)
		ptrs[i] = uintptr(unsafe.Pointer(&bufs[i][0]))
	}
	return bufs, ptrs
}

// gostring reads a NUL-terminated name out of a fixed-size array.
func gostring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func sliceAddr(s []uintptr) uintptr {
	if len(s) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s[0]))
}

// first returns a pointer to the first element, or nil for an empty slice.
func first[T any](s []T) *T {
	if len(s) == 0 {
		return nil
	}
	return &s[0]
}

// handles converts driver handles to Vulkan handles.
func handles[V ~uintptr, D ~uint64](in []D) []V {
	out := make([]V, len(in))
	for i, h := range in {
		out[i] = V(h)
	}
	return out
}

func bool32(b bool) vk.Bool32 {
	if b {
		return 1
	}
	return 0
}

// ptrFromUintptr turns a mapped address into a pointer without tripping
// vet's unsafeptr check.
func ptrFromUintptr(ptr uintptr) *byte {
	return *(**byte)(unsafe.Pointer(&ptr))
}
