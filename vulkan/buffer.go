package vulkan

import (
	"unsafe"

	"github.com/docker/go-units"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

// Buffer is a VkBuffer with its own memory allocation.
type Buffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory

	device      *Device
	size        uint64
	usage       gpu.BufferUsage
	hostVisible bool
	mapped      unsafe.Pointer
}

func (d *Device) NewBuffer(desc *gpu.BufferDesc) (gpu.Buffer, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vk.BufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if res := vk.CreateBuffer(d.Device, &bufferInfo, nil, &handle); res != vk.Success {
		return nil, vkError(res, "failed to create buffer")
	}

	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.Device, handle, &memRequirements)
	memRequirements.Deref()

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.HostVisible {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memoryType, err := d.FindMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		vk.DestroyBuffer(d.Device, handle, nil)
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryType,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.Device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyBuffer(d.Device, handle, nil)
		return nil, vkError(res, "failed to allocate buffer memory")
	}
	if res := vk.BindBufferMemory(d.Device, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(d.Device, memory, nil)
		vk.DestroyBuffer(d.Device, handle, nil)
		return nil, vkError(res, "failed to bind buffer memory")
	}

	gpu.Logger().Debug("buffer allocated",
		"usage", uint32(desc.Usage),
		"hostVisible", desc.HostVisible,
		"size", units.BytesSize(float64(memRequirements.Size)))

	return &Buffer{
		Handle:      handle,
		Memory:      memory,
		device:      d,
		size:        desc.Size,
		usage:       desc.Usage,
		hostVisible: desc.HostVisible,
	}, nil
}

func (b *Buffer) Size() uint64           { return b.size }
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

// Map maps the whole buffer. Mapping an already mapped buffer is a no-op.
func (b *Buffer) Map() error {
	if !b.hostVisible {
		return gpu.ErrNotHostVisible
	}
	if b.mapped != nil {
		return nil
	}
	var data unsafe.Pointer
	if res := vk.MapMemory(b.device.Device, b.Memory, 0, vk.DeviceSize(b.size), 0, &data); res != vk.Success {
		return vkError(res, "failed to map buffer memory")
	}
	b.mapped = data
	return nil
}

func (b *Buffer) Unmap() {
	if b.mapped != nil {
		vk.UnmapMemory(b.device.Device, b.Memory)
		b.mapped = nil
	}
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return gpu.ErrNotMapped
	}
	if err := gpu.CheckRange(b.size, offset, len(data)); err != nil {
		return err
	}
	vk.Memcopy(unsafe.Add(b.mapped, offset), data)
	return nil
}

func (b *Buffer) Flush() error {
	if b.mapped == nil {
		return gpu.ErrNotMapped
	}
	ranges := []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: b.Memory,
		Offset: 0,
		Size:   vk.DeviceSize(vk.WholeSize),
	}}
	if res := vk.FlushMappedMemoryRanges(b.device.Device, 1, ranges); res != vk.Success {
		return vkError(res, "failed to flush buffer memory")
	}
	return nil
}

func (b *Buffer) Destroy() {
	b.Unmap()
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(b.device.Device, b.Handle, nil)
		vk.FreeMemory(b.device.Device, b.Memory, nil)
		b.Handle = vk.NullBuffer
		b.Memory = vk.NullDeviceMemory
	}
}
