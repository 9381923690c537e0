// Package render owns the Vulkan rendering context a load-test sample
// draws against: instance, device, swapchain, render pass, framebuffers,
// command pool and per-frame synchronization. Samples record their own
// draw command buffers; the context allocates them and submits the one
// matching each acquired swapchain image.
package render

import (
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

// MaxFramesInFlight bounds how many frames may be recorded ahead of the
// GPU.
const MaxFramesInFlight = 2

// Options configures context creation.
type Options struct {
	AppName          string
	EnableValidation bool
	Logger           *log.Logger
}

// Context is the shared rendering state of the load-test app. Exported
// fields are the objects samples build their resources from.
type Context struct {
	window *sdl.Window
	logger *log.Logger

	GlobalDriver   core1_0.GlobalDriver
	InstanceDriver core1_0.CoreInstanceDriver
	DeviceDriver   core1_0.CoreDeviceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	PhysicalDevice core1_0.PhysicalDevice
	GpuFeatures    core1_0.PhysicalDeviceFeatures
	GpuProperties  *core1_0.PhysicalDeviceProperties

	GraphicsQueue core1_0.Queue
	PresentQueue  core1_0.Queue

	swapchainExtension  khr_swapchain.ExtensionDriver
	swapchain           khr_swapchain.Swapchain
	SwapchainImages     []core1_0.Image
	SwapchainExtent     core1_0.Extent2D
	swapchainFormat     core1_0.Format
	swapchainImageViews []core1_0.ImageView

	depthFormat      core1_0.Format
	depthImage       core1_0.Image
	depthImageMemory core1_0.DeviceMemory
	depthImageView   core1_0.ImageView

	RenderPass   core1_0.RenderPass
	Framebuffers []core1_0.Framebuffer

	CommandPool        core1_0.CommandPool
	DrawCommandBuffers []core1_0.CommandBuffer

	imageAvailableSemaphores []core1_0.Semaphore
	renderFinishedSemaphores []core1_0.Semaphore
	inFlightFences           []core1_0.Fence
	imagesInFlight           []core1_0.Fence
	currentFrame             int
}

// New builds a complete context for the given SDL window, through the
// depth buffer, render pass, framebuffers and frame sync objects. On
// error, everything acquired so far is released.
func New(window *sdl.Window, opts Options) (*Context, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	ctx := &Context{
		window: window,
		logger: opts.Logger,
	}

	err := ctx.init(opts)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	return ctx, nil
}

func (ctx *Context) init(opts Options) error {
	var err error
	ctx.GlobalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return errors.Wrap(err, "load vulkan driver")
	}

	err = ctx.createInstance(opts)
	if err != nil {
		return err
	}

	if opts.EnableValidation {
		err = ctx.setupDebugMessenger()
		if err != nil {
			return err
		}
	}

	err = ctx.createSurface()
	if err != nil {
		return err
	}

	err = ctx.pickPhysicalDevice()
	if err != nil {
		return err
	}

	err = ctx.createLogicalDevice()
	if err != nil {
		return err
	}

	err = ctx.createCommandPool()
	if err != nil {
		return err
	}

	err = ctx.createSwapchainResources()
	if err != nil {
		return err
	}

	return ctx.createSyncObjects()
}

func (ctx *Context) createInstance(opts Options) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "texarray",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := ctx.window.VulkanGetInstanceExtensions()
	extensions, _, err := ctx.GlobalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("create instance: missing required SDL extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if opts.EnableValidation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	layers, _, err := ctx.GlobalDriver.AvailableLayers()
	if err != nil {
		return err
	}

	if opts.EnableValidation {
		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("create instance: validation layer %s not available - install the LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = ctx.debugMessengerOptions()
	}

	ctx.InstanceDriver, _, err = ctx.GlobalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func (ctx *Context) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    ctx.logDebug,
	}
}

func (ctx *Context) setupDebugMessenger() error {
	var err error
	ctx.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(ctx.InstanceDriver)
	ctx.debugMessenger, _, err = ctx.debugDriver.CreateDebugUtilsMessenger(nil, ctx.debugMessengerOptions())
	return err
}

func (ctx *Context) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	if severity&ext_debug_utils.SeverityError != 0 {
		ctx.logger.Error("validation", "type", msgType.String(), "message", data.Message)
	} else {
		ctx.logger.Warn("validation", "type", msgType.String(), "message", data.Message)
	}
	return false
}

func (ctx *Context) createSurface() error {
	ctx.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(ctx.InstanceDriver)
	surface, err := vkng_sdl2.CreateSurface(ctx.InstanceDriver.Instance(), ctx.surfaceExtension, ctx.window)
	if err != nil {
		return err
	}

	ctx.surface = surface
	return nil
}

func (ctx *Context) pickPhysicalDevice() error {
	physicalDevices, _, err := ctx.InstanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if ctx.isDeviceSuitable(device) {
			ctx.PhysicalDevice = device
			break
		}
	}

	if !ctx.PhysicalDevice.Initialized() {
		return errors.New("no suitable GPU found")
	}

	ctx.GpuFeatures = *ctx.InstanceDriver.GetPhysicalDeviceFeatures(ctx.PhysicalDevice)
	ctx.GpuProperties, err = ctx.InstanceDriver.GetPhysicalDeviceProperties(ctx.PhysicalDevice)
	if err != nil {
		return err
	}

	ctx.logger.Info("selected GPU", "device", ctx.GpuProperties.DriverName)
	return nil
}

func (ctx *Context) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := ctx.findQueueFamilies(device)
	if err != nil {
		return false
	}

	extensions, _, err := ctx.InstanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}
	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	formats, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfaceFormats(ctx.surface, device)
	if err != nil || len(formats) == 0 {
		return false
	}
	presentModes, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(ctx.surface, device)
	if err != nil || len(presentModes) == 0 {
		return false
	}

	return indices.IsComplete()
}

func (ctx *Context) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := ctx.InstanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := ctx.surfaceExtension.GetPhysicalDeviceSurfaceSupport(ctx.surface, device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (ctx *Context) createLogicalDevice() error {
	indices, err := ctx.findQueueFamilies(ctx.PhysicalDevice)
	if err != nil {
		return err
	}

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	if uniqueQueueFamilies[0] != *indices.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *indices.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Necessary to run on top of vulkan portability (MoltenVK and
	// similar layered implementations).
	extensions, _, err := ctx.InstanceDriver.EnumerateDeviceExtensionProperties(ctx.PhysicalDevice)
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	ctx.DeviceDriver, _, err = ctx.InstanceDriver.CreateDevice(ctx.PhysicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: ctx.GpuFeatures.SamplerAnisotropy,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	ctx.GraphicsQueue = ctx.DeviceDriver.GetQueue(*indices.GraphicsFamily, 0)
	ctx.PresentQueue = ctx.DeviceDriver.GetQueue(*indices.PresentFamily, 0)
	return nil
}

func (ctx *Context) createCommandPool() error {
	indices, err := ctx.findQueueFamilies(ctx.PhysicalDevice)
	if err != nil {
		return err
	}

	pool, _, err := ctx.DeviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: *indices.GraphicsFamily,
	})
	if err != nil {
		return err
	}
	ctx.CommandPool = pool

	return nil
}

func (ctx *Context) createSyncObjects() error {
	for i := 0; i < MaxFramesInFlight; i++ {
		semaphore, _, err := ctx.DeviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		ctx.imageAvailableSemaphores = append(ctx.imageAvailableSemaphores, semaphore)

		fence, _, err := ctx.DeviceDriver.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			return err
		}
		ctx.inFlightFences = append(ctx.inFlightFences, fence)
	}

	for i := 0; i < len(ctx.SwapchainImages); i++ {
		semaphore, _, err := ctx.DeviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return err
		}
		ctx.renderFinishedSemaphores = append(ctx.renderFinishedSemaphores, semaphore)
		ctx.imagesInFlight = append(ctx.imagesInFlight, core1_0.Fence{})
	}

	return nil
}

// WaitIdle blocks until the device finishes all queued work.
func (ctx *Context) WaitIdle() error {
	_, err := ctx.DeviceDriver.DeviceWaitIdle()
	return err
}

// Destroy tears the context down in reverse creation order. Safe to call
// on a partially constructed context.
func (ctx *Context) Destroy() {
	ctx.destroySwapchainResources()

	for _, fence := range ctx.inFlightFences {
		ctx.DeviceDriver.DestroyFence(fence, nil)
	}
	ctx.inFlightFences = nil

	for _, semaphore := range ctx.renderFinishedSemaphores {
		ctx.DeviceDriver.DestroySemaphore(semaphore, nil)
	}
	ctx.renderFinishedSemaphores = nil

	for _, semaphore := range ctx.imageAvailableSemaphores {
		ctx.DeviceDriver.DestroySemaphore(semaphore, nil)
	}
	ctx.imageAvailableSemaphores = nil

	if ctx.CommandPool.Initialized() {
		ctx.DeviceDriver.DestroyCommandPool(ctx.CommandPool, nil)
		ctx.CommandPool = core1_0.CommandPool{}
	}

	if ctx.DeviceDriver != nil {
		ctx.DeviceDriver.DestroyDevice(nil)
		ctx.DeviceDriver = nil
	}

	if ctx.debugMessenger.Initialized() {
		ctx.debugDriver.DestroyDebugUtilsMessenger(ctx.debugMessenger, nil)
		ctx.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if ctx.surface.Initialized() {
		ctx.surfaceExtension.DestroySurface(ctx.surface, nil)
		ctx.surface = khr_surface.Surface{}
	}

	if ctx.InstanceDriver != nil {
		ctx.InstanceDriver.DestroyInstance(nil)
		ctx.InstanceDriver = nil
	}
}
