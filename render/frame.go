package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// ErrSwapchainOutOfDate reports that the swapchain no longer matches
// the surface. The caller recreates the swapchain, rebuilds its draw
// command buffers and tries again.
var ErrSwapchainOutOfDate = errors.New("swapchain out of date")

// CreateDrawCommandBuffers allocates one primary command buffer per
// framebuffer for the sample to record into. Buffers from an earlier
// allocation are freed first, so a resize that skipped the swapchain
// rebuild (zero drawable size) can still re-record safely.
func (ctx *Context) CreateDrawCommandBuffers() error {
	ctx.DestroyDrawCommandBuffers()

	buffers, _, err := ctx.DeviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        ctx.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: len(ctx.Framebuffers),
	})
	if err != nil {
		return err
	}

	ctx.DrawCommandBuffers = buffers
	return nil
}

// DestroyDrawCommandBuffers frees the sample's draw command buffers.
func (ctx *Context) DestroyDrawCommandBuffers() {
	if len(ctx.DrawCommandBuffers) > 0 {
		ctx.DeviceDriver.FreeCommandBuffers(ctx.DrawCommandBuffers...)
		ctx.DrawCommandBuffers = nil
	}
}

// DrawFrame submits the pre-recorded draw command buffer matching the
// next swapchain image and presents the result. Returns
// ErrSwapchainOutOfDate when the swapchain must be rebuilt first.
func (ctx *Context) DrawFrame() error {
	fences := []core1_0.Fence{ctx.inFlightFences[ctx.currentFrame]}

	_, err := ctx.DeviceDriver.WaitForFences(true, common.NoTimeout, fences...)
	if err != nil {
		return err
	}

	imageIndex, res, err := ctx.swapchainExtension.AcquireNextImage(ctx.swapchain, common.NoTimeout, &ctx.imageAvailableSemaphores[ctx.currentFrame], nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return ErrSwapchainOutOfDate
	} else if err != nil {
		return err
	}

	if ctx.imagesInFlight[imageIndex].Initialized() {
		_, err = ctx.DeviceDriver.WaitForFences(true, common.NoTimeout, ctx.imagesInFlight[imageIndex])
		if err != nil {
			return err
		}
	}
	ctx.imagesInFlight[imageIndex] = ctx.inFlightFences[ctx.currentFrame]

	_, err = ctx.DeviceDriver.ResetFences(fences...)
	if err != nil {
		return err
	}

	_, err = ctx.DeviceDriver.QueueSubmit(ctx.GraphicsQueue, &ctx.inFlightFences[ctx.currentFrame],
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{ctx.imageAvailableSemaphores[ctx.currentFrame]},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{ctx.DrawCommandBuffers[imageIndex]},
			SignalSemaphores: []core1_0.Semaphore{ctx.renderFinishedSemaphores[imageIndex]},
		},
	)
	if err != nil {
		return err
	}

	res, err = ctx.swapchainExtension.QueuePresent(ctx.PresentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{ctx.renderFinishedSemaphores[imageIndex]},
		Swapchains:     []khr_swapchain.Swapchain{ctx.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return ErrSwapchainOutOfDate
	} else if err != nil {
		return err
	}

	ctx.currentFrame = (ctx.currentFrame + 1) % MaxFramesInFlight

	return nil
}
