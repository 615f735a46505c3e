// Package deletion provides ordered registries of GPU objects that are
// destroyed in reverse registration order.
//
// Objects are recorded as (kind, handle) pairs and destroyed through a
// dispatch table, which keeps a queue inspectable: Pending lists what is
// still alive and AssertEmpty reports leaks at shutdown.
//
//	q := deletion.NewQueue("main", deletion.DeviceTable(dev))
//	q.Push(deletion.KindPipelineLayout, uint64(layout))
//	q.Push(deletion.KindPipeline, uint64(pipeline))
//	...
//	q.Flush() // destroys the pipeline, then its layout
package deletion

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrLeaked is returned by AssertEmpty when entries are still registered.
var ErrLeaked = errors.New("deletion: leaked objects")

// ErrNoDestructor is reported by Flush for entries whose kind has no
// destructor in the dispatch table.
var ErrNoDestructor = errors.New("deletion: no destructor for kind")

// Kind tags the type of a registered object.
type Kind uint8

// Object kinds.
const (
	KindFunc Kind = iota
	KindBuffer
	KindImage
	KindImageView
	KindSampler
	KindAllocation
	KindFence
	KindSemaphore
	KindCommandPool
	KindDescriptorSetLayout
	KindDescriptorPool
	KindPipelineLayout
	KindPipeline
	KindShaderModule
	KindRenderPass
	KindFramebuffer
	KindSwapchain
	kindCount
)

var kindNames = [kindCount]string{
	KindFunc:                "func",
	KindBuffer:              "buffer",
	KindImage:               "image",
	KindImageView:           "image-view",
	KindSampler:             "sampler",
	KindAllocation:          "allocation",
	KindFence:               "fence",
	KindSemaphore:           "semaphore",
	KindCommandPool:         "command-pool",
	KindDescriptorSetLayout: "descriptor-set-layout",
	KindDescriptorPool:      "descriptor-pool",
	KindPipelineLayout:      "pipeline-layout",
	KindPipeline:            "pipeline",
	KindShaderModule:        "shader-module",
	KindRenderPass:          "render-pass",
	KindFramebuffer:         "framebuffer",
	KindSwapchain:           "swapchain",
}

// String returns the kind name.
func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Destructor destroys the object named by handle.
type Destructor func(handle uint64)

// Table maps kinds to destructors.
type Table map[Kind]Destructor

// Entry is one registered object.
type Entry struct {
	Kind   Kind
	Handle uint64
	Label  string

	fn func()
}

// String formats the entry for leak reports and logs.
func (e Entry) String() string {
	if e.Kind == KindFunc {
		return "func " + e.Label
	}
	if e.Label != "" {
		return fmt.Sprintf("%s %#x (%s)", e.Kind, e.Handle, e.Label)
	}
	return fmt.Sprintf("%s %#x", e.Kind, e.Handle)
}

// Queue is an ordered registry of objects to destroy.
//
// Queue is safe for concurrent use, but entries registered concurrently have
// no defined relative order.
type Queue struct {
	mu      sync.Mutex
	name    string
	table   Table
	entries []Entry
	logger  *slog.Logger
}

// NewQueue creates an empty queue that destroys objects through table.
// A nil table only accepts PushFunc entries.
func NewQueue(name string, table Table) *Queue {
	return &Queue{name: name, table: table}
}

// SetLogger sets the logger used for per-flush diagnostics.
func (q *Queue) SetLogger(l *slog.Logger) {
	q.mu.Lock()
	q.logger = l
	q.mu.Unlock()
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Push registers an object of the given kind. Zero handles are ignored.
func (q *Queue) Push(kind Kind, handle uint64) {
	q.PushLabeled(kind, handle, "")
}

// PushLabeled registers an object with a label shown in leak reports.
func (q *Queue) PushLabeled(kind Kind, handle uint64, label string) {
	if handle == 0 {
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, Entry{Kind: kind, Handle: handle, Label: label})
	q.mu.Unlock()
}

// PushFunc registers an arbitrary cleanup action.
func (q *Queue) PushFunc(label string, fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.entries = append(q.entries, Entry{Kind: KindFunc, Label: label, fn: fn})
	q.mu.Unlock()
}

// Len returns the number of registered entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the registered entries in registration order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Flush destroys every entry from the most recently registered to the
// first, then empties the queue. Entries without a destructor are skipped
// and reported in the returned error; the flush itself always completes.
func (q *Queue) Flush() error {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	table := q.table
	logger := q.logger
	q.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	if logger != nil {
		logger.Debug("deletion: flush", "queue", q.name, "entries", len(entries))
	}

	var errs error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind == KindFunc {
			e.fn()
			continue
		}
		destroy, ok := table[e.Kind]
		if !ok || destroy == nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(ErrNoDestructor, "%s: %s", q.name, e))
			continue
		}
		destroy(e.Handle)
	}
	return errs
}

// AssertEmpty returns ErrLeaked listing the entries still registered.
func (q *Queue) AssertEmpty() error {
	pending := q.Pending()
	if len(pending) == 0 {
		return nil
	}
	parts := make([]string, len(pending))
	for i, e := range pending {
		parts[i] = e.String()
	}
	return errors.WithDetailf(
		errors.Wrapf(ErrLeaked, "queue %q holds %d entries", q.name, len(pending)),
		"%s", strings.Join(parts, ", "))
}
