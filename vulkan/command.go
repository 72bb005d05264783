package vulkan

import (
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

type CommandBuffer struct {
	Handle vk.CommandBuffer
}

func (d *Device) NewCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.CommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}

	handles := make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(d.Device, &allocInfo, handles); res != vk.Success {
		return nil, vkError(res, "failed to allocate command buffers")
	}

	buffers := make([]gpu.CommandBuffer, count)
	for i := range buffers {
		buffers[i] = &CommandBuffer{Handle: handles[i]}
	}
	return buffers, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, len(buffers))
	for i, buf := range buffers {
		handles[i] = buf.(*CommandBuffer).Handle
	}
	vk.FreeCommandBuffers(d.Device, d.CommandPool, uint32(len(handles)), handles)
}

// Begin starts recording. Buffers come from a pool created with the reset
// bit, so beginning a previously recorded buffer resets it.
func (cb *CommandBuffer) Begin(oneTime bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTime {
		beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if res := vk.BeginCommandBuffer(cb.Handle, &beginInfo); res != vk.Success {
		return vkError(res, "failed to begin recording command buffer")
	}
	return nil
}

func (cb *CommandBuffer) End() error {
	if res := vk.EndCommandBuffer(cb.Handle); res != vk.Success {
		return vkError(res, "failed to end recording command buffer")
	}
	return nil
}

func (cb *CommandBuffer) BeginRenderPass(info *gpu.RenderPassBegin) {
	clearValues := toClearValues(info.ClearValues)
	vk.CmdBeginRenderPass(cb.Handle, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      info.RenderPass.(*RenderPass).Handle,
		Framebuffer:     info.Framebuffer.(*Framebuffer).Handle,
		RenderArea:      toRect(info.Area),
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}, vk.SubpassContentsInline)
}

func (cb *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(cb.Handle)
}

func (cb *CommandBuffer) SetViewport(viewport gpu.Viewport) {
	vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (cb *CommandBuffer) SetScissor(scissor gpu.Rect2D) {
	vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{toRect(scissor)})
}

// TransitionImageLayout records a pipeline barrier moving image between
// layouts. Unknown transitions fall back to a full top-to-bottom barrier.
func (cb *CommandBuffer) TransitionImageLayout(image gpu.Image, oldLayout, newLayout gpu.ImageLayout) {
	img := image.(*Image)

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           vk.ImageLayout(oldLayout),
		NewLayout:           vk.ImageLayout(newLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlagBits

	switch {
	case oldLayout == gpu.ImageLayoutUndefined && newLayout == gpu.ImageLayoutTransferDst:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageTopOfPipeBit
		dstStage = vk.PipelineStageTransferBit
	case oldLayout == gpu.ImageLayoutTransferDst && newLayout == gpu.ImageLayoutShaderReadOnly:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageTransferBit
		dstStage = vk.PipelineStageFragmentShaderBit
	case oldLayout == gpu.ImageLayoutUndefined && newLayout == gpu.ImageLayoutDepthStencilAttachment:
		barrier.SubresourceRange.AspectMask = vk.ImageAspectFlags(gpu.DepthAspect(img.format))
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit |
			vk.AccessDepthStencilAttachmentWriteBit)
		srcStage = vk.PipelineStageTopOfPipeBit
		dstStage = vk.PipelineStageEarlyFragmentTestsBit
	default:
		srcStage = vk.PipelineStageTopOfPipeBit
		dstStage = vk.PipelineStageBottomOfPipeBit
	}

	vk.CmdPipelineBarrier(cb.Handle,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (cb *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size uint64) {
	vk.CmdCopyBuffer(cb.Handle, src.(*Buffer).Handle, dst.(*Buffer).Handle, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}})
}

func (cb *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image) {
	img := dst.(*Image)
	vk.CmdCopyBufferToImage(cb.Handle, src.(*Buffer).Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{},
		ImageExtent: vk.Extent3D{
			Width:  img.extent.Width,
			Height: img.extent.Height,
			Depth:  1,
		},
	}})
}
