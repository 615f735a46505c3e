//go:build !(js && wasm)

package vulkan

import (
	"runtime"

	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorSetLayoutBinding) (driver.DescriptorSetLayout, error) {
	vb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vb)),
		PBindings:    first(vb),
	}
	var h vk.DescriptorSetLayout
	if err := result(d.cmds.CreateDescriptorSetLayout(d.handle, &info, nil, &h), "vkCreateDescriptorSetLayout"); err != nil {
		return 0, err
	}
	return driver.DescriptorSetLayout(h), nil
}

func (d *Device) DestroyDescriptorSetLayout(l driver.DescriptorSetLayout) {
	d.cmds.DestroyDescriptorSetLayout(d.handle, vk.DescriptorSetLayout(l), nil)
}

func (d *Device) CreateDescriptorPool(desc *driver.DescriptorPoolDescriptor) (driver.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(desc.Sizes))
	for i, s := range desc.Sizes {
		sizes[i] = vk.DescriptorPoolSize{Type: vk.DescriptorType(s.Type), DescriptorCount: s.Count}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(desc.Flags),
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    first(sizes),
	}
	var h vk.DescriptorPool
	if err := result(d.cmds.CreateDescriptorPool(d.handle, &info, nil, &h), "vkCreateDescriptorPool"); err != nil {
		return 0, err
	}
	return driver.DescriptorPool(h), nil
}

func (d *Device) DestroyDescriptorPool(p driver.DescriptorPool) {
	d.cmds.DestroyDescriptorPool(d.handle, vk.DescriptorPool(p), nil)
}

func (d *Device) ResetDescriptorPool(p driver.DescriptorPool) error {
	return result(d.cmds.ResetDescriptorPool(d.handle, vk.DescriptorPool(p), 0), "vkResetDescriptorPool")
}

func (d *Device) AllocateDescriptorSets(p driver.DescriptorPool, layouts []driver.DescriptorSetLayout) ([]driver.DescriptorSet, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	ls := handles[vk.DescriptorSetLayout](layouts)
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     vk.DescriptorPool(p),
		DescriptorSetCount: uint32(len(ls)),
		PSetLayouts:        &ls[0],
	}
	sets := make([]vk.DescriptorSet, len(ls))
	if err := result(d.cmds.AllocateDescriptorSets(d.handle, &info, &sets[0]), "vkAllocateDescriptorSets"); err != nil {
		return nil, err
	}
	out := make([]driver.DescriptorSet, len(sets))
	for i, s := range sets {
		out[i] = driver.DescriptorSet(s)
	}
	return out, nil
}

func (d *Device) FreeDescriptorSets(p driver.DescriptorPool, sets []driver.DescriptorSet) error {
	if len(sets) == 0 {
		return nil
	}
	hs := handles[vk.DescriptorSet](sets)
	return result(d.cmds.FreeDescriptorSets(d.handle, vk.DescriptorPool(p), uint32(len(hs)), &hs[0]), "vkFreeDescriptorSets")
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	vw := make([]vk.WriteDescriptorSet, len(writes))
	// Keep the info arrays reachable until the call returns.
	bufs := make([][]vk.DescriptorBufferInfo, len(writes))
	imgs := make([][]vk.DescriptorImageInfo, len(writes))
	for i, w := range writes {
		vw[i] = vk.WriteDescriptorSet{
			SType:          vk.StructureTypeWriteDescriptorSet,
			DstSet:         vk.DescriptorSet(w.Set),
			DstBinding:     w.Binding,
			DescriptorType: vk.DescriptorType(w.Type),
		}
		if w.Type.IsImage() {
			imgs[i] = make([]vk.DescriptorImageInfo, len(w.Images))
			for j, ii := range w.Images {
				imgs[i][j] = vk.DescriptorImageInfo{
					Sampler:     vk.Sampler(ii.Sampler),
					ImageView:   vk.ImageView(ii.View),
					ImageLayout: vk.ImageLayout(ii.Layout),
				}
			}
			vw[i].DescriptorCount = uint32(len(imgs[i]))
			vw[i].PImageInfo = first(imgs[i])
			continue
		}
		bufs[i] = make([]vk.DescriptorBufferInfo, len(w.Buffers))
		for j, bi := range w.Buffers {
			bufs[i][j] = vk.DescriptorBufferInfo{
				Buffer: vk.Buffer(bi.Buffer),
				Offset: vk.DeviceSize(bi.Offset),
				Range:  vk.DeviceSize(bi.Range),
			}
		}
		vw[i].DescriptorCount = uint32(len(bufs[i]))
		vw[i].PBufferInfo = first(bufs[i])
	}
	d.cmds.UpdateDescriptorSets(d.handle, uint32(len(vw)), &vw[0], 0, nil)
	runtime.KeepAlive(bufs)
	runtime.KeepAlive(imgs)
}
