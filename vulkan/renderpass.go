package vulkan

import (
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

type RenderPass struct {
	Handle vk.RenderPass
	device *Device
}

type Framebuffer struct {
	Handle vk.Framebuffer
	device *Device
}

// NewRenderPass creates a single-subpass pass with a cleared color
// attachment that ends in the present layout and a cleared depth
// attachment whose contents are discarded.
func (d *Device) NewRenderPass(desc *gpu.RenderPassDesc) (gpu.RenderPass, error) {
	attachments := []vk.AttachmentDescription{
		{
			Format:         vk.Format(desc.ColorFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		},
		{
			Format:         vk.Format(desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
		PDepthStencilAttachment: &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit)
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: 0,
		DstStageMask:  stages,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(d.Device, &renderPassInfo, nil, &handle); res != vk.Success {
		return nil, vkError(res, "failed to create render pass")
	}
	return &RenderPass{Handle: handle, device: d}, nil
}

func (rp *RenderPass) Destroy() {
	if rp.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(rp.device.Device, rp.Handle, nil)
		rp.Handle = vk.NullRenderPass
	}
}

func (d *Device) NewFramebuffer(desc *gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		views[i] = a.(*ImageView).Handle
	}

	framebufferInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      desc.RenderPass.(*RenderPass).Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}

	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(d.Device, &framebufferInfo, nil, &handle); res != vk.Success {
		return nil, vkError(res, "failed to create framebuffer")
	}
	return &Framebuffer{Handle: handle, device: d}, nil
}

func (fb *Framebuffer) Destroy() {
	if fb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(fb.device.Device, fb.Handle, nil)
		fb.Handle = vk.NullFramebuffer
	}
}
