package soft

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

type setLayout struct {
	bindings map[uint32]driver.DescriptorSetLayoutBinding
}

func (l *setLayout) sorted() []driver.DescriptorSetLayoutBinding {
	out := make([]driver.DescriptorSetLayoutBinding, 0, len(l.bindings))
	for _, b := range l.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Binding < out[j].Binding })
	return out
}

type descriptorPool struct {
	desc      driver.DescriptorPoolDescriptor
	setsLeft  uint32
	available map[driver.DescriptorType]uint32
	sets      map[driver.DescriptorSet]bool
}

func (p *descriptorPool) refill() {
	p.setsLeft = p.desc.MaxSets
	p.available = make(map[driver.DescriptorType]uint32, len(p.desc.Sizes))
	for _, s := range p.desc.Sizes {
		p.available[s.Type] += s.Count
	}
}

type descriptorSet struct {
	pool   driver.DescriptorPool
	layout driver.DescriptorSetLayout
	writes map[uint32]driver.DescriptorWrite
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorSetLayoutBinding) (driver.DescriptorSetLayout, error) {
	l := &setLayout{bindings: make(map[uint32]driver.DescriptorSetLayoutBinding, len(bindings))}
	for _, b := range bindings {
		if _, dup := l.bindings[b.Binding]; dup {
			return 0, errors.Newf("soft: descriptor set layout declares binding %d twice", b.Binding)
		}
		if b.Stages == 0 {
			d.invalid("CreateDescriptorSetLayout: binding %d has no shader stages", b.Binding)
		}
		l.bindings[b.Binding] = b
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.DescriptorSetLayout(d.handle())
	d.setLayouts[h] = l
	return h, nil
}

func (d *Device) DestroyDescriptorSetLayout(l driver.DescriptorSetLayout) {
	destroyIn(d, d.setLayouts, l, "DestroyDescriptorSetLayout")
}

func (d *Device) CreateDescriptorPool(desc *driver.DescriptorPoolDescriptor) (driver.DescriptorPool, error) {
	if desc.MaxSets == 0 {
		return 0, errors.New("soft: descriptor pool with zero max sets")
	}
	p := &descriptorPool{
		desc: driver.DescriptorPoolDescriptor{
			MaxSets: desc.MaxSets,
			Sizes:   append([]driver.DescriptorPoolSize(nil), desc.Sizes...),
			Flags:   desc.Flags,
		},
		sets: make(map[driver.DescriptorSet]bool),
	}
	p.refill()
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.DescriptorPool(d.handle())
	d.descPools[h] = p
	return h, nil
}

func (d *Device) DestroyDescriptorPool(p driver.DescriptorPool) {
	if p == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descPools[p]
	if !ok {
		d.invalid("DestroyDescriptorPool: unknown pool %#x", p)
		return
	}
	for s := range pool.sets {
		delete(d.sets, s)
	}
	delete(d.descPools, p)
}

func (d *Device) ResetDescriptorPool(p driver.DescriptorPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descPools[p]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: reset unknown descriptor pool %#x", p)
	}
	for s := range pool.sets {
		delete(d.sets, s)
	}
	pool.sets = make(map[driver.DescriptorSet]bool)
	pool.refill()
	return nil
}

func (d *Device) AllocateDescriptorSets(p driver.DescriptorPool, layouts []driver.DescriptorSetLayout) ([]driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descPools[p]
	if !ok {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: allocate from unknown descriptor pool %#x", p)
	}
	need := make(map[driver.DescriptorType]uint32)
	for _, lh := range layouts {
		l, ok := d.setLayouts[lh]
		if !ok {
			return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: allocate with unknown set layout %#x", lh)
		}
		for _, b := range l.bindings {
			need[b.Type] += b.Count
		}
	}
	if uint32(len(layouts)) > pool.setsLeft {
		return nil, errors.Wrapf(driver.ErrOutOfPoolMemory, "soft: pool %#x has %d sets left, need %d", p, pool.setsLeft, len(layouts))
	}
	for t, n := range need {
		if pool.available[t] < n {
			return nil, errors.Wrapf(driver.ErrOutOfPoolMemory, "soft: pool %#x has %d descriptors of type %d left, need %d", p, pool.available[t], t, n)
		}
	}

	pool.setsLeft -= uint32(len(layouts))
	for t, n := range need {
		pool.available[t] -= n
	}
	out := make([]driver.DescriptorSet, len(layouts))
	for i, lh := range layouts {
		h := driver.DescriptorSet(d.handle())
		d.sets[h] = &descriptorSet{pool: p, layout: lh, writes: make(map[uint32]driver.DescriptorWrite)}
		pool.sets[h] = true
		out[i] = h
	}
	return out, nil
}

func (d *Device) FreeDescriptorSets(p driver.DescriptorPool, sets []driver.DescriptorSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.descPools[p]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: free into unknown descriptor pool %#x", p)
	}
	if pool.desc.Flags&driver.DescriptorPoolFreeDescriptorSet == 0 {
		d.invalid("FreeDescriptorSets: pool %#x was not created with DescriptorPoolFreeDescriptorSet", p)
		return errors.New("soft: pool does not allow freeing individual sets")
	}
	for _, s := range sets {
		set, ok := d.sets[s]
		if !ok || set.pool != p {
			d.invalid("FreeDescriptorSets: set %#x does not belong to pool %#x", s, p)
			continue
		}
		pool.setsLeft++
		if l, ok := d.setLayouts[set.layout]; ok {
			for _, b := range l.bindings {
				pool.available[b.Type] += b.Count
			}
		}
		delete(pool.sets, s)
		delete(d.sets, s)
	}
	return nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		set, ok := d.sets[w.Set]
		if !ok {
			d.invalid("UpdateDescriptorSets: unknown set %#x", w.Set)
			continue
		}
		l, ok := d.setLayouts[set.layout]
		if !ok {
			d.invalid("UpdateDescriptorSets: set %#x layout was destroyed", w.Set)
			continue
		}
		b, ok := l.bindings[w.Binding]
		if !ok {
			d.invalid("UpdateDescriptorSets: set %#x has no binding %d", w.Set, w.Binding)
			continue
		}
		if b.Type != w.Type {
			d.invalid("UpdateDescriptorSets: binding %d is type %d, write is type %d", w.Binding, b.Type, w.Type)
			continue
		}
		n := len(w.Buffers)
		if w.Type.IsImage() {
			n = len(w.Images)
		}
		if n == 0 || uint32(n) > b.Count {
			d.invalid("UpdateDescriptorSets: binding %d takes %d descriptors, write has %d", w.Binding, b.Count, n)
			continue
		}
		for _, bi := range w.Buffers {
			if _, ok := d.buffers[bi.Buffer]; !ok {
				d.invalid("UpdateDescriptorSets: binding %d references unknown buffer %#x", w.Binding, bi.Buffer)
			}
		}
		for _, ii := range w.Images {
			if _, ok := d.views[ii.View]; !ok {
				d.invalid("UpdateDescriptorSets: binding %d references unknown image view %#x", w.Binding, ii.View)
			}
		}
		cp := w
		cp.Buffers = append([]driver.DescriptorBufferInfo(nil), w.Buffers...)
		cp.Images = append([]driver.DescriptorImageInfo(nil), w.Images...)
		set.writes[w.Binding] = cp
	}
}

// DescriptorWrites returns the writes applied to a set, ordered by binding.
func (d *Device) DescriptorWrites(s driver.DescriptorSet) []driver.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets[s]
	if !ok {
		return nil
	}
	out := make([]driver.DescriptorWrite, 0, len(set.writes))
	for _, w := range set.writes {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Binding < out[j].Binding })
	return out
}

// DescriptorSetLayoutOf returns the layout a set was allocated with.
func (d *Device) DescriptorSetLayoutOf(s driver.DescriptorSet) (driver.DescriptorSetLayout, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets[s]
	if !ok {
		return 0, false
	}
	return set.layout, true
}
