package device

import (
	"slices"

	"github.com/gogpu/gfx/driver"
)

// QueueFamilyIndices holds the queue family chosen for each role. A nil
// field means no family qualifies for that role.
type QueueFamilyIndices struct {
	Graphics *uint32
	Present  *uint32
	Transfer *uint32
}

// IsComplete reports whether every role has a family.
func (q QueueFamilyIndices) IsComplete() bool {
	return q.Graphics != nil && q.Present != nil && q.Transfer != nil
}

// Unique returns the distinct families in ascending order.
func (q QueueFamilyIndices) Unique() []uint32 {
	var out []uint32
	for _, f := range []*uint32{q.Graphics, q.Present, q.Transfer} {
		if f != nil && !slices.Contains(out, *f) {
			out = append(out, *f)
		}
	}
	slices.Sort(out)
	return out
}

// SeparatePresent reports whether graphics and present use different
// families, which requires concurrent image sharing in the swapchain.
func (q QueueFamilyIndices) SeparatePresent() bool {
	return q.Graphics != nil && q.Present != nil && *q.Graphics != *q.Present
}

// FindQueueFamilies assigns queue roles in a single scan: graphics and
// transfer by capability bit, present by surface support. The scan stops as
// soon as all three roles are filled; otherwise each role keeps the last
// family that qualified for it.
func FindQueueFamilies(pd driver.PhysicalDevice) (QueueFamilyIndices, error) {
	var indices QueueFamilyIndices
	for i, fam := range pd.QueueFamilies() {
		family := uint32(i)
		if fam.Flags&driver.QueueGraphics != 0 {
			indices.Graphics = &family
		}
		if fam.Flags&driver.QueueTransfer != 0 {
			indices.Transfer = &family
		}
		ok, err := pd.SurfaceSupport(family)
		if err != nil {
			return indices, err
		}
		if ok {
			indices.Present = &family
		}
		if indices.IsComplete() {
			break
		}
	}
	return indices, nil
}
