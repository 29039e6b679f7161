// Package gpu provides an optional WebGPU forward path for the hot
// convolution kernels. The CPU implementations in package nn remain
// the reference; this package mirrors their layouts exactly so results
// can be compared buffer-for-buffer.
package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it on
// first use.
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		ctx.Adapter, initErr = ctx.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if ctx.Adapter == nil {
			// Fall back to whatever the platform offers.
			ctx.Adapter, initErr = ctx.Instance.RequestAdapter(nil)
		}
		if ctx.Adapter == nil {
			initErr = fmt.Errorf("no WebGPU adapter available: %v", initErr)
			return
		}

		ctx.Device, initErr = ctx.Adapter.RequestDevice(nil)
		if initErr != nil {
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}
