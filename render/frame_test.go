package render

import (
	"testing"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"go.uber.org/mock/gomock"
)

func TestCreateDrawCommandBuffersAllocatesPerFramebuffer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := mocks1_0.NewMockCoreDeviceDriver(ctrl)
	ctx := &Context{
		DeviceDriver: driver,
		Framebuffers: make([]core1_0.Framebuffer, 3),
	}

	driver.EXPECT().AllocateCommandBuffers(gomock.Any()).DoAndReturn(
		func(o core1_0.CommandBufferAllocateInfo) ([]core1_0.CommandBuffer, common.VkResult, error) {
			if o.CommandBufferCount != 3 {
				t.Errorf("allocated %d buffers, want one per framebuffer (3)", o.CommandBufferCount)
			}
			if o.Level != core1_0.CommandBufferLevelPrimary {
				t.Errorf("allocated level %v, want primary", o.Level)
			}
			return make([]core1_0.CommandBuffer, o.CommandBufferCount), core1_0.VKSuccess, nil
		})

	err := ctx.CreateDrawCommandBuffers()
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.DrawCommandBuffers) != 3 {
		t.Fatalf("got %d draw command buffers, want 3", len(ctx.DrawCommandBuffers))
	}
}

// A resize can reach CreateDrawCommandBuffers while the previous
// allocation is still live, when the swapchain rebuild was skipped for
// a zero drawable size. The old buffers must be freed and replaced, not
// treated as an error.
func TestCreateDrawCommandBuffersRecyclesLiveAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := mocks1_0.NewMockCoreDeviceDriver(ctrl)
	ctx := &Context{
		DeviceDriver: driver,
		Framebuffers: make([]core1_0.Framebuffer, 2),
	}

	gomock.InOrder(
		driver.EXPECT().AllocateCommandBuffers(gomock.Any()).
			Return(make([]core1_0.CommandBuffer, 2), core1_0.VKSuccess, nil),
		driver.EXPECT().FreeCommandBuffers(gomock.Any()),
		driver.EXPECT().AllocateCommandBuffers(gomock.Any()).
			Return(make([]core1_0.CommandBuffer, 2), core1_0.VKSuccess, nil),
	)

	err := ctx.CreateDrawCommandBuffers()
	if err != nil {
		t.Fatal(err)
	}

	err = ctx.CreateDrawCommandBuffers()
	if err != nil {
		t.Fatalf("second allocation over a live one: %v", err)
	}
	if len(ctx.DrawCommandBuffers) != 2 {
		t.Fatalf("got %d draw command buffers, want 2", len(ctx.DrawCommandBuffers))
	}
}

func TestDestroyDrawCommandBuffers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	driver := mocks1_0.NewMockCoreDeviceDriver(ctrl)
	ctx := &Context{
		DeviceDriver:       driver,
		DrawCommandBuffers: make([]core1_0.CommandBuffer, 2),
	}

	driver.EXPECT().FreeCommandBuffers(gomock.Any())

	ctx.DestroyDrawCommandBuffers()
	if ctx.DrawCommandBuffers != nil {
		t.Error("draw command buffers not cleared")
	}

	// Nothing left to free; a second call must not touch the driver.
	ctx.DestroyDrawCommandBuffers()
}
