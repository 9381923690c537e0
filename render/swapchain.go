package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// createSwapchainResources builds everything that depends on the
// surface extent: swapchain, image views, depth buffer, render pass and
// framebuffers.
func (ctx *Context) createSwapchainResources() error {
	err := ctx.createSwapchain()
	if err != nil {
		return err
	}

	err = ctx.createSwapchainImageViews()
	if err != nil {
		return err
	}

	err = ctx.createDepthResources()
	if err != nil {
		return err
	}

	err = ctx.createRenderPass()
	if err != nil {
		return err
	}

	return ctx.createFramebuffers()
}

func (ctx *Context) createSwapchain() error {
	ctx.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(ctx.DeviceDriver)

	capabilities, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(ctx.surface, ctx.PhysicalDevice)
	if err != nil {
		return err
	}
	formats, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfaceFormats(ctx.surface, ctx.PhysicalDevice)
	if err != nil {
		return err
	}
	presentModes, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(ctx.surface, ctx.PhysicalDevice)
	if err != nil {
		return err
	}

	surfaceFormat := ChooseSurfaceFormat(formats)
	presentMode := ChoosePresentMode(presentModes)

	drawableWidth, drawableHeight := ctx.window.VulkanGetDrawableSize()
	extent := ChooseExtent(capabilities, int(drawableWidth), int(drawableHeight))

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	indices, err := ctx.findQueueFamilies(ctx.PhysicalDevice)
	if err != nil {
		return err
	}

	if *indices.GraphicsFamily != *indices.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *indices.GraphicsFamily, *indices.PresentFamily)
	}

	swapchain, _, err := ctx.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: ctx.surface,

		MinImageCount:    ChooseImageCount(capabilities),
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return err
	}

	ctx.swapchain = swapchain
	ctx.SwapchainExtent = extent
	ctx.swapchainFormat = surfaceFormat.Format

	ctx.SwapchainImages, _, err = ctx.swapchainExtension.GetSwapchainImages(ctx.swapchain)
	return err
}

func (ctx *Context) createSwapchainImageViews() error {
	for _, image := range ctx.SwapchainImages {
		view, _, err := ctx.DeviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   ctx.swapchainFormat,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return err
		}

		ctx.swapchainImageViews = append(ctx.swapchainImageViews, view)
	}

	return nil
}

func (ctx *Context) findDepthFormat() (core1_0.Format, error) {
	candidates := []core1_0.Format{
		core1_0.FormatD32SignedFloat,
		core1_0.FormatD32SignedFloatS8UnsignedInt,
		core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
	}

	for _, format := range candidates {
		props := ctx.InstanceDriver.GetPhysicalDeviceFormatProperties(ctx.PhysicalDevice, format)
		if (props.OptimalTilingFeatures & core1_0.FormatFeatureDepthStencilAttachment) != 0 {
			return format, nil
		}
	}

	return 0, errors.New("no supported depth attachment format")
}

func (ctx *Context) createDepthResources() error {
	depthFormat, err := ctx.findDepthFormat()
	if err != nil {
		return err
	}
	ctx.depthFormat = depthFormat

	ctx.depthImage, _, err = ctx.DeviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  ctx.SwapchainExtent.Width,
			Height: ctx.SwapchainExtent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        depthFormat,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         core1_0.ImageUsageDepthStencilAttachment,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return err
	}

	memReqs := ctx.DeviceDriver.GetImageMemoryRequirements(ctx.depthImage)
	memoryIndex, err := ctx.FindMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return err
	}

	ctx.depthImageMemory, _, err = ctx.DeviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		return err
	}

	_, err = ctx.DeviceDriver.BindImageMemory(ctx.depthImage, ctx.depthImageMemory, 0)
	if err != nil {
		return err
	}

	ctx.depthImageView, _, err = ctx.DeviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    ctx.depthImage,
		ViewType: core1_0.ImageViewType2D,
		Format:   depthFormat,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectDepth,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return err
}

func (ctx *Context) createRenderPass() error {
	renderPass, _, err := ctx.DeviceDriver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         ctx.swapchainFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         ctx.depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return err
	}

	ctx.RenderPass = renderPass
	return nil
}

func (ctx *Context) createFramebuffers() error {
	for _, imageView := range ctx.swapchainImageViews {
		framebuffer, _, err := ctx.DeviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: ctx.RenderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				imageView,
				ctx.depthImageView,
			},
			Width:  ctx.SwapchainExtent.Width,
			Height: ctx.SwapchainExtent.Height,
		})
		if err != nil {
			return err
		}

		ctx.Framebuffers = append(ctx.Framebuffers, framebuffer)
	}

	return nil
}

// RecreateSwapchain rebuilds the extent-dependent resources after a
// resize or an out-of-date present. The caller re-records its draw
// command buffers afterwards.
func (ctx *Context) RecreateSwapchain() error {
	w, h := ctx.window.VulkanGetDrawableSize()
	if w == 0 || h == 0 {
		return nil
	}

	err := ctx.WaitIdle()
	if err != nil {
		return err
	}

	ctx.destroySwapchainResources()

	err = ctx.createSwapchainResources()
	if err != nil {
		return err
	}

	// Per-image sync state follows the new image count.
	for _, semaphore := range ctx.renderFinishedSemaphores {
		ctx.DeviceDriver.DestroySemaphore(semaphore, nil)
	}
	ctx.renderFinishedSemaphores = nil
	ctx.imagesInFlight = nil
	for i := 0; i < len(ctx.SwapchainImages); i++ {
		semaphore, _, err := ctx.DeviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		ctx.renderFinishedSemaphores = append(ctx.renderFinishedSemaphores, semaphore)
		ctx.imagesInFlight = append(ctx.imagesInFlight, core1_0.Fence{})
	}

	ctx.logger.Debug("swapchain recreated",
		"width", ctx.SwapchainExtent.Width,
		"height", ctx.SwapchainExtent.Height)
	return nil
}

func (ctx *Context) destroySwapchainResources() {
	ctx.DestroyDrawCommandBuffers()

	for _, framebuffer := range ctx.Framebuffers {
		ctx.DeviceDriver.DestroyFramebuffer(framebuffer, nil)
	}
	ctx.Framebuffers = nil

	if ctx.RenderPass.Initialized() {
		ctx.DeviceDriver.DestroyRenderPass(ctx.RenderPass, nil)
		ctx.RenderPass = core1_0.RenderPass{}
	}

	if ctx.depthImageView.Initialized() {
		ctx.DeviceDriver.DestroyImageView(ctx.depthImageView, nil)
		ctx.depthImageView = core1_0.ImageView{}
	}
	if ctx.depthImage.Initialized() {
		ctx.DeviceDriver.DestroyImage(ctx.depthImage, nil)
		ctx.depthImage = core1_0.Image{}
	}
	if ctx.depthImageMemory.Initialized() {
		ctx.DeviceDriver.FreeMemory(ctx.depthImageMemory, nil)
		ctx.depthImageMemory = core1_0.DeviceMemory{}
	}

	for _, imageView := range ctx.swapchainImageViews {
		ctx.DeviceDriver.DestroyImageView(imageView, nil)
	}
	ctx.swapchainImageViews = nil

	if ctx.swapchain.Initialized() {
		ctx.swapchainExtension.DestroySwapchain(ctx.swapchain, nil)
		ctx.swapchain = khr_swapchain.Swapchain{}
	}
}
