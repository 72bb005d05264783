package vulkan

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"vk-render-engine/gpu"
)

type Instance struct {
	Handle           vk.Instance
	EnableValidation bool

	debugCallback vk.DebugReportCallback
}

type InstanceConfig struct {
	AppName          string
	EngineName       string
	AppVersion       uint32
	EngineVersion    uint32
	EnableValidation bool

	// RequiredExtensions are the instance extensions the windowing system
	// needs to create a surface.
	RequiredExtensions []string

	// ProcAddr is the vkGetInstanceProcAddr loader supplied by the window
	// system. When nil the bindings use the system loader.
	ProcAddr unsafe.Pointer
}

func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		AppName:          "Render Engine App",
		EngineName:       "Render Engine",
		AppVersion:       vk.MakeVersion(1, 0, 0),
		EngineVersion:    vk.MakeVersion(1, 0, 0),
		EnableValidation: true,
	}
}

func NewInstance(config InstanceConfig) (*Instance, error) {
	if config.ProcAddr != nil {
		vk.SetGetInstanceProcAddr(config.ProcAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Wrap(err, "failed to load the Vulkan loader")
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize Vulkan bindings")
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   cstr(config.AppName),
		ApplicationVersion: config.AppVersion,
		PEngineName:        cstr(config.EngineName),
		EngineVersion:      config.EngineVersion,
		ApiVersion:         vk.ApiVersion10,
	}

	extensions := cstrs(config.RequiredExtensions)
	var layers []string
	if config.EnableValidation {
		if !checkValidationLayerSupport() {
			return nil, errors.New("validation layers requested but not available")
		}
		layers = []string{cstr(KhronosValidationLayer)}
		extensions = append(extensions, cstr(vk.ExtDebugReportExtensionName))
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	var handle vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &handle); res != vk.Success {
		return nil, vkError(res, "failed to create Vulkan instance")
	}
	if err := vk.InitInstance(handle); err != nil {
		vk.DestroyInstance(handle, nil)
		return nil, errors.Wrap(err, "failed to load instance functions")
	}

	inst := &Instance{
		Handle:           handle,
		EnableValidation: config.EnableValidation,
	}

	if config.EnableValidation {
		if err := inst.setupDebugCallback(); err != nil {
			gpu.Logger().Warn("debug callback unavailable", "error", err)
		}
	}

	return inst, nil
}

func (i *Instance) setupDebugCallback() error {
	createInfo := vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit),
		PfnCallback: debugCallback,
	}
	if res := vk.CreateDebugReportCallback(i.Handle, &createInfo, nil, &i.debugCallback); res != vk.Success {
		return vkError(res, "failed to create debug callback")
	}
	return nil
}

func debugCallback(flags vk.DebugReportFlags, _ vk.DebugReportObjectType, _ uint64, _ uint,
	code int32, layer string, message string, _ unsafe.Pointer) vk.Bool32 {
	log := gpu.Logger()
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Error(message, "layer", layer, "code", code)
	default:
		log.Warn(message, "layer", layer, "code", code)
	}
	return vk.False
}

// Destroy releases the instance. Every surface and device created from it
// must already be destroyed.
func (i *Instance) Destroy() {
	if i.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.Handle, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(i.Handle, nil)
}

// DestroySurface releases a surface created for this instance.
func (i *Instance) DestroySurface(surface vk.Surface) {
	if surface != vk.NullSurface {
		vk.DestroySurface(i.Handle, surface, nil)
	}
}

func checkValidationLayerSupport() bool {
	availableLayers, res := enumerate(vk.EnumerateInstanceLayerProperties)
	if res != vk.Success {
		return false
	}

	for _, layer := range availableLayers {
		layer.Deref()
		if vk.ToString(layer.LayerName[:]) == KhronosValidationLayer {
			return true
		}
	}
	return false
}
