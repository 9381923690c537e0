package render

import (
	"bytes"
	"encoding/binary"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// FindMemoryType picks a memory type index satisfying both the
// requirement bits and the requested property flags.
func (ctx *Context) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := ctx.InstanceDriver.GetPhysicalDeviceMemoryProperties(ctx.PhysicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.New("no suitable memory type")
}

// CreateBuffer creates a buffer, allocates memory for it and binds the
// two together.
func (ctx *Context) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	buffer, _, err := ctx.DeviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	memRequirements := ctx.DeviceDriver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := ctx.FindMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		ctx.DeviceDriver.DestroyBuffer(buffer, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	memory, _, err := ctx.DeviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		ctx.DeviceDriver.DestroyBuffer(buffer, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	_, err = ctx.DeviceDriver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		ctx.DeviceDriver.DestroyBuffer(buffer, nil)
		ctx.DeviceDriver.FreeMemory(memory, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}
	return buffer, memory, nil
}

// CreateDeviceLocalBuffer uploads data into a new device-local buffer
// through a staging buffer.
func (ctx *Context) CreateDeviceLocalBuffer(data any, usage core1_0.BufferUsageFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	bufferSize := binary.Size(data)

	stagingBuffer, stagingMemory, err := ctx.CreateBuffer(bufferSize,
		core1_0.BufferUsageTransferSrc,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}
	defer ctx.DeviceDriver.DestroyBuffer(stagingBuffer, nil)
	defer ctx.DeviceDriver.FreeMemory(stagingMemory, nil)

	err = ctx.WriteData(stagingMemory, 0, data)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	buffer, memory, err := ctx.CreateBuffer(bufferSize,
		core1_0.BufferUsageTransferDst|usage,
		core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	err = ctx.copyBuffer(stagingBuffer, buffer, bufferSize)
	if err != nil {
		ctx.DeviceDriver.DestroyBuffer(buffer, nil)
		ctx.DeviceDriver.FreeMemory(memory, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	return buffer, memory, nil
}

// WriteData serializes data into mapped device memory at the given byte
// offset.
func (ctx *Context) WriteData(memory core1_0.DeviceMemory, offset int, data any) error {
	bufferSize := binary.Size(data)

	memoryPtr, _, err := ctx.DeviceDriver.MapMemory(memory, offset, bufferSize, 0)
	if err != nil {
		return err
	}
	defer ctx.DeviceDriver.UnmapMemory(memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)

	buf := &bytes.Buffer{}
	err = binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return err
	}

	copy(dataBuffer, buf.Bytes())
	return nil
}

func (ctx *Context) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := ctx.DeviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        ctx.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}

	buffer := buffers[0]
	_, err = ctx.DeviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return buffer, err
}

func (ctx *Context) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	_, err := ctx.DeviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	_, err = ctx.DeviceDriver.QueueSubmit(ctx.GraphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return err
	}

	_, err = ctx.DeviceDriver.QueueWaitIdle(ctx.GraphicsQueue)
	if err != nil {
		return err
	}

	ctx.DeviceDriver.FreeCommandBuffers(buffer)
	return nil
}

func (ctx *Context) copyBuffer(srcBuffer core1_0.Buffer, dstBuffer core1_0.Buffer, size int) error {
	buffer, err := ctx.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = ctx.DeviceDriver.CmdCopyBuffer(buffer, srcBuffer, dstBuffer,
		core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	)
	if err != nil {
		return err
	}

	return ctx.endSingleTimeCommands(buffer)
}

// LoadShaderModule reads a SPIR-V binary from disk and wraps it in a
// shader module.
func (ctx *Context) LoadShaderModule(path string) (core1_0.ShaderModule, error) {
	shaderBytes, err := os.ReadFile(path)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "load shader %q", path)
	}
	if len(shaderBytes)%4 != 0 {
		return core1_0.ShaderModule{}, errors.Newf("shader %q is not a SPIR-V binary (size %d)", path, len(shaderBytes))
	}

	module, _, err := ctx.DeviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: BytesToBytecode(shaderBytes),
	})
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "create shader module %q", path)
	}
	return module, nil
}

// BytesToBytecode reinterprets a SPIR-V binary as the 32-bit words the
// shader module API expects.
func BytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}
