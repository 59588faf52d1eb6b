// Package fluid implements a GPU-resident stable fluids solver built from
// staged compute dispatches over double-buffered fields.
//
// # Overview
//
// A simulation evolves a two-channel density field and a velocity field on
// an N x N grid. Every buffer carries a one-cell ghost ring, so each
// channel holds (N+2)^2 float32 values. One step runs a fixed sequence of
// compute stages:
//
//	velocity: add source -> diffuse -> advect -> project
//	density:  add source -> diffuse -> advect (along the new velocity)
//
// A presentation stage then draws one quad per interior cell into a
// caller-supplied color target.
//
// # Quick Start
//
//	dev, _ := backend.Default()
//	cfg, _ := fluid.NewConfig(128)
//
//	sim, _ := fluid.NewSimulationPipeline(ctx, dev, cfg, fluid.InitialState{
//	    DensityX: seed,
//	})
//	present, _ := fluid.NewPresentationStage(ctx, dev, cfg, sim, fluid.DefaultColormap())
//	frames, _ := fluid.NewFrameOrchestrator(dev, cfg, sim, present)
//
//	target, _ := dev.CreateRenderTarget(&gpucore.RenderTargetDesc{
//	    Width: 512, Height: 512, Format: cfg.TargetFormat,
//	})
//	for range 100 {
//	    if err := frames.RenderFrame(target); err != nil {
//	        return err
//	    }
//	}
//	img, _ := dev.ReadRenderTarget(target)
//
// # Stages and Bindings
//
// A [ComputeStage] binds a kernel to a fixed list of resources:
// slot 0 is a 16-byte [Uniforms] block, then the read-only inputs, then
// the read-write outputs. A [Field2D] binds as its x then y buffer.
// [BuildComputeStage] checks the resources against the slots reflected
// from the kernel and returns a [*BindingArityError] before creating
// anything on the device.
//
// # Double Buffering
//
// [DoubleField] alternates the roles of two fields. Previous holds the
// latest completed state and is read by the next step; Current is written.
// All stage variants for both parities are built up front, so a step
// never rebuilds a binding set.
//
// # Backends
//
// The device collaborator is [gpucore.Device]. backend/native implements
// it over gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES, software). backend/cpu
// executes Go versions of the kernels and rasterizes the presentation pass
// in memory; it needs no GPU.
//
// # Logging
//
// By default fluid produces no log output. Use [SetLogger] to enable it.
package fluid
