// Package ktxvk uploads textures parsed by the ktx package into Vulkan
// images. It mirrors the libktx ktxVulkanDeviceInfo/ktxTexture_VkUpload
// pairing: a DeviceInfo is constructed around the upload call from an
// existing device, queue and command pool, and the result is an
// immutable device-local image holding every layer and mip level.
package ktxvk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/ktxgo/texarray/ktx"
)

// DeviceInfo bundles the Vulkan objects an upload needs. The caller
// keeps ownership of all of them.
type DeviceInfo struct {
	PhysicalDevice core1_0.PhysicalDevice
	InstanceDriver core1_0.CoreInstanceDriver
	DeviceDriver   core1_0.CoreDeviceDriver
	Queue          core1_0.Queue
	CommandPool    core1_0.CommandPool
}

// Texture is a fully uploaded, shader-readable Vulkan texture.
type Texture struct {
	Image    core1_0.Image
	Memory   core1_0.DeviceMemory
	Format   core1_0.Format
	ViewType core1_0.ImageViewType

	Width      int
	Height     int
	LayerCount int
	LevelCount int
}

// Destroy releases the image and its memory.
func (t *Texture) Destroy(driver core1_0.CoreDeviceDriver) {
	if t.Image.Initialized() {
		driver.DestroyImage(t.Image, nil)
		t.Image = core1_0.Image{}
	}
	if t.Memory.Initialized() {
		driver.FreeMemory(t.Memory, nil)
		t.Memory = core1_0.DeviceMemory{}
	}
}

// StagingLayout computes the buffer-image copy regions for a texture's
// staging buffer, one region per mip level spanning every array layer,
// along with the total staging size. Level data is packed in file order
// with each level aligned to four bytes.
func StagingLayout(tex *ktx.Texture) ([]core1_0.BufferImageCopy, int) {
	var regions []core1_0.BufferImageCopy
	offset := 0

	for levelIndex, level := range tex.Levels {
		regions = append(regions, core1_0.BufferImageCopy{
			BufferOffset: offset,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       levelIndex,
				BaseArrayLayer: 0,
				LayerCount:     int(tex.LayerCount() * tex.Faces),
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{
				Width:  int(level.Width),
				Height: int(level.Height),
				Depth:  1,
			},
		})

		offset += len(level.Data)
		offset += (4 - offset%4) % 4
	}

	return regions, offset
}

// Upload copies a parsed KTX texture into a new device-local image and
// transitions it for sampling.
func (info *DeviceInfo) Upload(tex *ktx.Texture) (*Texture, error) {
	format, err := FormatFor(tex)
	if err != nil {
		return nil, err
	}
	if tex.PixelDepth != 0 {
		return nil, errors.New("ktxvk: 3D textures are not supported")
	}

	regions, stagingSize := StagingLayout(tex)

	stagingBuffer, stagingMemory, err := info.createBuffer(stagingSize,
		core1_0.BufferUsageTransferSrc,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer func() {
		info.DeviceDriver.DestroyBuffer(stagingBuffer, nil)
		info.DeviceDriver.FreeMemory(stagingMemory, nil)
	}()

	err = info.writeLevels(stagingMemory, stagingSize, tex, regions)
	if err != nil {
		return nil, err
	}

	layerCount := int(tex.LayerCount() * tex.Faces)
	levelCount := int(tex.LevelCount())

	var createFlags core1_0.ImageCreateFlags
	if tex.IsCube() {
		createFlags |= core1_0.ImageCreateCubeCompatible
	}

	image, _, err := info.DeviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		Flags:     createFlags,
		ImageType: core1_0.ImageType2D,
		Format:    format,
		Extent: core1_0.Extent3D{
			Width:  int(tex.PixelWidth),
			Height: int(tex.PixelHeight),
			Depth:  1,
		},
		MipLevels:     levelCount,
		ArrayLayers:   layerCount,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, errors.Wrap(err, "ktxvk: create image")
	}

	memReqs := info.DeviceDriver.GetImageMemoryRequirements(image)
	memoryIndex, err := info.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		info.DeviceDriver.DestroyImage(image, nil)
		return nil, err
	}

	memory, _, err := info.DeviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		info.DeviceDriver.DestroyImage(image, nil)
		return nil, errors.Wrap(err, "ktxvk: allocate image memory")
	}

	uploaded := &Texture{
		Image:      image,
		Memory:     memory,
		Format:     format,
		ViewType:   ViewTypeFor(tex),
		Width:      int(tex.PixelWidth),
		Height:     int(tex.PixelHeight),
		LayerCount: layerCount,
		LevelCount: levelCount,
	}

	_, err = info.DeviceDriver.BindImageMemory(image, memory, 0)
	if err != nil {
		uploaded.Destroy(info.DeviceDriver)
		return nil, errors.Wrap(err, "ktxvk: bind image memory")
	}

	err = info.copyAndTransition(stagingBuffer, uploaded, regions)
	if err != nil {
		uploaded.Destroy(info.DeviceDriver)
		return nil, err
	}

	return uploaded, nil
}

// writeLevels copies each mip level into the mapped staging memory at
// the offset its copy region expects.
func (info *DeviceInfo) writeLevels(memory core1_0.DeviceMemory, size int, tex *ktx.Texture, regions []core1_0.BufferImageCopy) error {
	memoryPtr, _, err := info.DeviceDriver.MapMemory(memory, 0, size, 0)
	if err != nil {
		return errors.Wrap(err, "ktxvk: map staging memory")
	}
	defer info.DeviceDriver.UnmapMemory(memory)

	mapped := unsafe.Slice((*byte)(memoryPtr), size)
	for levelIndex, level := range tex.Levels {
		copy(mapped[regions[levelIndex].BufferOffset:], level.Data)
	}
	return nil
}

func (info *DeviceInfo) copyAndTransition(staging core1_0.Buffer, uploaded *Texture, regions []core1_0.BufferImageCopy) error {
	buffers, _, err := info.DeviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        info.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "ktxvk: allocate upload command buffer")
	}
	commandBuffer := buffers[0]
	defer info.DeviceDriver.FreeCommandBuffers(commandBuffer)

	_, err = info.DeviceDriver.BeginCommandBuffer(commandBuffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return err
	}

	subresourceRange := core1_0.ImageSubresourceRange{
		AspectMask:     core1_0.ImageAspectColor,
		BaseMipLevel:   0,
		LevelCount:     uploaded.LevelCount,
		BaseArrayLayer: 0,
		LayerCount:     uploaded.LayerCount,
	}

	err = info.DeviceDriver.CmdPipelineBarrier(commandBuffer,
		core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer,
		0, nil, nil, []core1_0.ImageMemoryBarrier{
			{
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           core1_0.ImageLayoutTransferDstOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               uploaded.Image,
				SubresourceRange:    subresourceRange,
				SrcAccessMask:       0,
				DstAccessMask:       core1_0.AccessTransferWrite,
			},
		})
	if err != nil {
		return err
	}

	err = info.DeviceDriver.CmdCopyBufferToImage(commandBuffer, staging, uploaded.Image,
		core1_0.ImageLayoutTransferDstOptimal, regions...)
	if err != nil {
		return err
	}

	err = info.DeviceDriver.CmdPipelineBarrier(commandBuffer,
		core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader,
		0, nil, nil, []core1_0.ImageMemoryBarrier{
			{
				OldLayout:           core1_0.ImageLayoutTransferDstOptimal,
				NewLayout:           core1_0.ImageLayoutShaderReadOnlyOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               uploaded.Image,
				SubresourceRange:    subresourceRange,
				SrcAccessMask:       core1_0.AccessTransferWrite,
				DstAccessMask:       core1_0.AccessShaderRead,
			},
		})
	if err != nil {
		return err
	}

	_, err = info.DeviceDriver.EndCommandBuffer(commandBuffer)
	if err != nil {
		return err
	}

	_, err = info.DeviceDriver.QueueSubmit(info.Queue, nil, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{commandBuffer},
	})
	if err != nil {
		return errors.Wrap(err, "ktxvk: submit upload")
	}

	_, err = info.DeviceDriver.QueueWaitIdle(info.Queue)
	return err
}

func (info *DeviceInfo) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	buffer, _, err := info.DeviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, errors.Wrap(err, "ktxvk: create staging buffer")
	}

	memReqs := info.DeviceDriver.GetBufferMemoryRequirements(buffer)
	memoryIndex, err := info.findMemoryType(memReqs.MemoryTypeBits, properties)
	if err != nil {
		info.DeviceDriver.DestroyBuffer(buffer, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	memory, _, err := info.DeviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		info.DeviceDriver.DestroyBuffer(buffer, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, errors.Wrap(err, "ktxvk: allocate staging memory")
	}

	_, err = info.DeviceDriver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		info.DeviceDriver.DestroyBuffer(buffer, nil)
		info.DeviceDriver.FreeMemory(memory, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}
	return buffer, memory, nil
}

func (info *DeviceInfo) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := info.InstanceDriver.GetPhysicalDeviceMemoryProperties(info.PhysicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.New("ktxvk: no suitable memory type")
}
