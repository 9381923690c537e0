package loadtest

import (
	"path/filepath"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/ktxgo/texarray/ktx"
	"github.com/ktxgo/texarray/ktxvk"
	"github.com/ktxgo/texarray/render"
)

const vertexBufferBindID = 0

// maxShaderLayers matches the instance array bound declared in
// instancing.vert. Textures with more layers render only the first
// maxShaderLayers of them.
const maxShaderLayers = 8

const (
	quadHalfExtent  = 2.5
	instanceSpacing = -1.5
	instanceTiltDeg = 60.0
)

type quadVertex struct {
	Pos mgl32.Vec3
	UV  mgl32.Vec2
}

type uboMatrices struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
}

type uboInstance struct {
	Model mgl32.Mat4
	// ArrayIndex carries the texture layer in X; the rest pads the
	// element out to the shader's std140 stride.
	ArrayIndex mgl32.Vec4
}

var matricesSize = int(unsafe.Sizeof(uboMatrices{}))
var instanceSize = int(unsafe.Sizeof(uboInstance{}))

// TextureArray renders every layer of a KTX 2D array texture as a stack
// of instanced quads.
type TextureArray struct {
	ctx    *render.Context
	logger *log.Logger

	width  int
	height int

	zoom     float32
	rotation mgl32.Vec3

	texture *ktxvk.Texture

	sampler   core1_0.Sampler
	imageView core1_0.ImageView

	vertexBuffer       core1_0.Buffer
	vertexBufferMemory core1_0.DeviceMemory
	indexBuffer        core1_0.Buffer
	indexBufferMemory  core1_0.DeviceMemory
	indexCount         int

	uniformBuffer       core1_0.Buffer
	uniformBufferMemory core1_0.DeviceMemory

	descriptorPool      core1_0.DescriptorPool
	descriptorSetLayout core1_0.DescriptorSetLayout
	descriptorSet       core1_0.DescriptorSet
	pipelineLayout      core1_0.PipelineLayout
	pipeline            core1_0.Pipeline
}

// NewTextureArray loads the KTX texture named by args from basePath,
// uploads it and prepares all rendering state through recorded draw
// command buffers. On a preparation failure every resource acquired so
// far is released before the error is returned.
func NewTextureArray(ctx *render.Context, width, height int, args, basePath string) (Sample, error) {
	texturePath := filepath.Join(basePath, args)
	texture, err := ktx.ReadFile(texturePath)
	if err != nil {
		return nil, err
	}

	deviceInfo := &ktxvk.DeviceInfo{
		PhysicalDevice: ctx.PhysicalDevice,
		InstanceDriver: ctx.InstanceDriver,
		DeviceDriver:   ctx.DeviceDriver,
		Queue:          ctx.GraphicsQueue,
		CommandPool:    ctx.CommandPool,
	}
	uploaded, err := deviceInfo.Upload(texture)
	if err != nil {
		return nil, errors.Wrapf(err, "upload of %q failed", texturePath)
	}

	s := &TextureArray{
		ctx:      ctx,
		logger:   log.Default(),
		width:    width,
		height:   height,
		zoom:     -15.0,
		rotation: mgl32.Vec3{-15.0, 35.0, 0.0},
		texture:  uploaded,
	}

	s.logger.Info("loaded texture array",
		"file", filepath.Base(texturePath),
		"layers", uploaded.LayerCount,
		"levels", uploaded.LevelCount,
		"extent", uploaded.Width)

	err = s.prepare(basePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *TextureArray) prepare(basePath string) error {
	err := s.prepareSamplerAndView()
	if err != nil {
		return err
	}

	err = s.generateQuad()
	if err != nil {
		return err
	}

	err = s.prepareUniformBuffer()
	if err != nil {
		return err
	}

	err = s.setupDescriptorSetLayout()
	if err != nil {
		return err
	}

	err = s.preparePipeline(basePath)
	if err != nil {
		return err
	}

	err = s.setupDescriptorPool()
	if err != nil {
		return err
	}

	err = s.setupDescriptorSet()
	if err != nil {
		return err
	}

	err = s.ctx.CreateDrawCommandBuffers()
	if err != nil {
		return err
	}

	return s.buildCommandBuffers()
}

// Resize re-records the draw command buffers against the rebuilt
// framebuffers and refreshes the projection matrix. The context has
// already recreated the swapchain when this is called.
func (s *TextureArray) Resize(width, height int) error {
	s.width = width
	s.height = height

	err := s.ctx.CreateDrawCommandBuffers()
	if err != nil {
		return err
	}

	err = s.buildCommandBuffers()
	if err != nil {
		return err
	}

	return s.updateUniformBufferMatrices()
}

// Run is a no-op: the scene is not animated, the app redraws from the
// command buffers built at preparation time.
func (s *TextureArray) Run(msTicks float64) error {
	return nil
}

// Close destroys every resource the sample acquired, in reverse
// creation order. Safe to call on a partially prepared sample.
func (s *TextureArray) Close() {
	driver := s.ctx.DeviceDriver

	if s.sampler.Initialized() {
		driver.DestroySampler(s.sampler, nil)
		s.sampler = core1_0.Sampler{}
	}
	if s.imageView.Initialized() {
		driver.DestroyImageView(s.imageView, nil)
		s.imageView = core1_0.ImageView{}
	}
	if s.texture != nil {
		s.texture.Destroy(driver)
	}

	if s.pipeline.Initialized() {
		driver.DestroyPipeline(s.pipeline, nil)
		s.pipeline = core1_0.Pipeline{}
	}
	if s.pipelineLayout.Initialized() {
		driver.DestroyPipelineLayout(s.pipelineLayout, nil)
		s.pipelineLayout = core1_0.PipelineLayout{}
	}
	if s.descriptorPool.Initialized() {
		driver.DestroyDescriptorPool(s.descriptorPool, nil)
		s.descriptorPool = core1_0.DescriptorPool{}
	}
	if s.descriptorSetLayout.Initialized() {
		driver.DestroyDescriptorSetLayout(s.descriptorSetLayout, nil)
		s.descriptorSetLayout = core1_0.DescriptorSetLayout{}
	}

	s.ctx.DestroyDrawCommandBuffers()

	if s.indexBuffer.Initialized() {
		driver.DestroyBuffer(s.indexBuffer, nil)
		s.indexBuffer = core1_0.Buffer{}
	}
	if s.indexBufferMemory.Initialized() {
		driver.FreeMemory(s.indexBufferMemory, nil)
		s.indexBufferMemory = core1_0.DeviceMemory{}
	}
	if s.vertexBuffer.Initialized() {
		driver.DestroyBuffer(s.vertexBuffer, nil)
		s.vertexBuffer = core1_0.Buffer{}
	}
	if s.vertexBufferMemory.Initialized() {
		driver.FreeMemory(s.vertexBufferMemory, nil)
		s.vertexBufferMemory = core1_0.DeviceMemory{}
	}
	if s.uniformBuffer.Initialized() {
		driver.DestroyBuffer(s.uniformBuffer, nil)
		s.uniformBuffer = core1_0.Buffer{}
	}
	if s.uniformBufferMemory.Initialized() {
		driver.FreeMemory(s.uniformBufferMemory, nil)
		s.uniformBufferMemory = core1_0.DeviceMemory{}
	}
}

func (s *TextureArray) prepareSamplerAndView() error {
	samplerInfo := core1_0.SamplerCreateInfo{
		MagFilter:   core1_0.FilterLinear,
		MinFilter:   core1_0.FilterLinear,
		MipmapMode:  core1_0.SamplerMipmapModeLinear,
		MaxLod:      float32(s.texture.LevelCount),
		BorderColor: core1_0.BorderColorFloatOpaqueWhite,
	}
	if s.ctx.GpuFeatures.SamplerAnisotropy {
		samplerInfo.AnisotropyEnable = true
		samplerInfo.MaxAnisotropy = 8
	} else {
		samplerInfo.MaxAnisotropy = 1.0
	}

	var err error
	s.sampler, _, err = s.ctx.DeviceDriver.CreateSampler(nil, samplerInfo)
	if err != nil {
		return err
	}

	// The shader reads through a view spanning every layer and level.
	s.imageView, _, err = s.ctx.DeviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    s.texture.Image,
		ViewType: s.texture.ViewType,
		Format:   s.texture.Format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     s.texture.LevelCount,
			BaseArrayLayer: 0,
			LayerCount:     s.texture.LayerCount,
		},
	})
	return err
}

func (s *TextureArray) generateQuad() error {
	dim := float32(quadHalfExtent)
	vertices := []quadVertex{
		{Pos: mgl32.Vec3{dim, dim, 0}, UV: mgl32.Vec2{1, 1}},
		{Pos: mgl32.Vec3{-dim, dim, 0}, UV: mgl32.Vec2{0, 1}},
		{Pos: mgl32.Vec3{-dim, -dim, 0}, UV: mgl32.Vec2{0, 0}},
		{Pos: mgl32.Vec3{dim, -dim, 0}, UV: mgl32.Vec2{1, 0}},
	}
	indices := []uint32{0, 1, 2, 2, 3, 0}
	s.indexCount = len(indices)

	var err error
	s.vertexBuffer, s.vertexBufferMemory, err = s.ctx.CreateDeviceLocalBuffer(vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return err
	}

	s.indexBuffer, s.indexBufferMemory, err = s.ctx.CreateDeviceLocalBuffer(indices, core1_0.BufferUsageIndexBuffer)
	return err
}

func uniformBufferSize() int {
	return matricesSize + maxShaderLayers*instanceSize
}

// renderedInstanceCount clamps the layer count to what the shader's
// instance array can address.
func renderedInstanceCount(layerCount int) int {
	if layerCount > maxShaderLayers {
		return maxShaderLayers
	}
	return layerCount
}

// instanceTransforms positions one quad per rendered layer: stacked
// vertically with a fixed spacing, centered on the origin, each tilted
// back about X, each addressing its own array layer.
func instanceTransforms(layerCount int) []uboInstance {
	count := renderedInstanceCount(layerCount)
	center := float32(count) * instanceSpacing / 2

	instances := make([]uboInstance, count)
	for i := 0; i < count; i++ {
		model := mgl32.Translate3D(0, float32(i)*instanceSpacing-center, 0)
		model = model.Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(instanceTiltDeg)))
		instances[i] = uboInstance{
			Model:      model,
			ArrayIndex: mgl32.Vec4{float32(i), 0, 0, 0},
		}
	}
	return instances
}

func (s *TextureArray) prepareUniformBuffer() error {
	var err error
	s.uniformBuffer, s.uniformBufferMemory, err = s.ctx.CreateBuffer(uniformBufferSize(),
		core1_0.BufferUsageUniformBuffer,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return err
	}

	// The instanced region is fixed for the sample's lifetime; only the
	// matrices region is rewritten on resize.
	instances := instanceTransforms(s.texture.LayerCount)
	err = s.ctx.WriteData(s.uniformBufferMemory, matricesSize, instances)
	if err != nil {
		return err
	}

	return s.updateUniformBufferMatrices()
}

func (s *TextureArray) updateUniformBufferMatrices() error {
	aspect := float32(s.width) / float32(s.height)

	matrices := uboMatrices{}
	matrices.Projection = mgl32.Perspective(mgl32.DegToRad(60), aspect, 0.001, 256)
	// GL to Vulkan clip space: Y points down.
	matrices.Projection[5] *= -1

	view := mgl32.Translate3D(0, -1, s.zoom)
	view = view.Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(s.rotation.X())))
	view = view.Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(s.rotation.Y())))
	view = view.Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(s.rotation.Z())))
	matrices.View = view

	return s.ctx.WriteData(s.uniformBufferMemory, 0, &matrices)
}

func (s *TextureArray) setupDescriptorSetLayout() error {
	var err error
	s.descriptorSetLayout, _, err = s.ctx.DeviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return err
	}

	s.pipelineLayout, _, err = s.ctx.DeviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			s.descriptorSetLayout,
		},
	})
	return err
}

func (s *TextureArray) setupDescriptorPool() error {
	var err error
	s.descriptorPool, _, err = s.ctx.DeviceDriver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
			},
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
			},
		},
	})
	return err
}

func (s *TextureArray) setupDescriptorSet() error {
	sets, _, err := s.ctx.DeviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: s.descriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{s.descriptorSetLayout},
	})
	if err != nil {
		return err
	}
	s.descriptorSet = sets[0]

	return s.ctx.DeviceDriver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          s.descriptorSet,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeUniformBuffer,

			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: s.uniformBuffer,
					Offset: 0,
					Range:  uniformBufferSize(),
				},
			},
		},
		{
			DstSet:          s.descriptorSet,
			DstBinding:      1,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   s.imageView,
					Sampler:     s.sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
}

func vertexBindingDescriptions() []core1_0.VertexInputBindingDescription {
	v := quadVertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   vertexBufferBindID,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := quadVertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  vertexBufferBindID,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Pos)),
		},
		{
			Binding:  vertexBufferBindID,
			Location: 1,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.UV)),
		},
	}
}

func (s *TextureArray) preparePipeline(basePath string) error {
	vertShader, err := s.ctx.LoadShaderModule(filepath.Join(basePath, "shaders", "instancing.vert.spv"))
	if err != nil {
		return err
	}
	defer s.ctx.DeviceDriver.DestroyShaderModule(vertShader, nil)

	fragShader, err := s.ctx.LoadShaderModule(filepath.Join(basePath, "shaders", "instancing.frag.spv"))
	if err != nil {
		return err
	}
	defer s.ctx.DeviceDriver.DestroyShaderModule(fragShader, nil)

	pipelines, _, err := s.ctx.DeviceDriver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{
					Stage:  core1_0.StageVertex,
					Module: vertShader,
					Name:   "main",
				},
				{
					Stage:  core1_0.StageFragment,
					Module: fragShader,
					Name:   "main",
				},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   vertexBindingDescriptions(),
				VertexAttributeDescriptions: vertexAttributeDescriptions(),
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: core1_0.PrimitiveTopologyTriangleList,
			},
			// Viewport and scissor are dynamic so the pipeline survives
			// window resizes.
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: make([]core1_0.Viewport, 1),
				Scissors:  make([]core1_0.Rect2D, 1),
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				DepthClampEnable:        false,
				RasterizerDiscardEnable: false,

				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    core1_0.CullModeNone,
				FrontFace:   core1_0.FrontFaceCounterClockwise,

				LineWidth: 1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
				DepthTestEnable:  true,
				DepthWriteEnable: true,
				DepthCompareOp:   core1_0.CompareOpLessOrEqual,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						BlendEnabled:   false,
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
				DynamicStates: []core1_0.DynamicState{
					core1_0.DynamicStateViewport,
					core1_0.DynamicStateScissor,
				},
			},
			Layout:            s.pipelineLayout,
			RenderPass:        s.ctx.RenderPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	)
	if err != nil {
		return err
	}
	s.pipeline = pipelines[0]

	return nil
}

// buildCommandBuffers records one draw per framebuffer: a single
// indexed draw of the quad with one instance per rendered layer.
func (s *TextureArray) buildCommandBuffers() error {
	driver := s.ctx.DeviceDriver

	for bufferIdx, buffer := range s.ctx.DrawCommandBuffers {
		_, err := driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
		if err != nil {
			return err
		}

		err = driver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
			core1_0.RenderPassBeginInfo{
				RenderPass:  s.ctx.RenderPass,
				Framebuffer: s.ctx.Framebuffers[bufferIdx],
				RenderArea: core1_0.Rect2D{
					Offset: core1_0.Offset2D{X: 0, Y: 0},
					Extent: s.ctx.SwapchainExtent,
				},
				ClearValues: []core1_0.ClearValue{
					core1_0.ClearValueFloat{0.025, 0.025, 0.025, 1},
					core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
				},
			})
		if err != nil {
			return err
		}

		driver.CmdSetViewport(buffer, []core1_0.Viewport{
			{
				X:        0,
				Y:        0,
				Width:    float32(s.ctx.SwapchainExtent.Width),
				Height:   float32(s.ctx.SwapchainExtent.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		})
		driver.CmdSetScissor(buffer, []core1_0.Rect2D{
			{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: s.ctx.SwapchainExtent,
			},
		})

		driver.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointGraphics, s.pipelineLayout, 0, []core1_0.DescriptorSet{
			s.descriptorSet,
		}, nil)
		driver.CmdBindVertexBuffers(buffer, vertexBufferBindID, []core1_0.Buffer{s.vertexBuffer}, []int{0})
		driver.CmdBindIndexBuffer(buffer, s.indexBuffer, 0, core1_0.IndexTypeUInt32)
		driver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, s.pipeline)

		driver.CmdDrawIndexed(buffer, s.indexCount, renderedInstanceCount(s.texture.LayerCount), 0, 0, 0)

		driver.CmdEndRenderPass(buffer)

		_, err = driver.EndCommandBuffer(buffer)
		if err != nil {
			return err
		}
	}

	return nil
}
